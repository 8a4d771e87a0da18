package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultHeartbeatTimeout = 10 * time.Second

// LivenessConfig tunes the heartbeat registry.
type LivenessConfig struct {
	// TTL bounds how long a heartbeat counts as live without being refreshed.
	TTL time.Duration
	// Timeout bounds a single fire-and-forget heartbeat write.
	Timeout time.Duration
}

// LivenessRegistry publishes this instance's heartbeat and counts live peers.
type LivenessRegistry struct {
	store    HeartbeatStore
	instance Instance
	cfg      LivenessConfig
	settings

	inflight sync.WaitGroup
}

func NewLivenessRegistry(store HeartbeatStore, instance Instance, cfg LivenessConfig, opts ...Option) (*LivenessRegistry, error) {
	if store == nil {
		return nil, errors.New("heartbeat store is required")
	}
	if instance.ID == uuid.Nil {
		return nil, errors.New("instance id is required")
	}
	if cfg.TTL <= 0 {
		return nil, ErrInvalidTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHeartbeatTimeout
	}
	return &LivenessRegistry{store: store, instance: instance, cfg: cfg, settings: newSettings(opts)}, nil
}

// Heartbeat upserts this instance's record without blocking the caller.
// Failures are logged; the next period tries again.
func (r *LivenessRegistry) Heartbeat(ctx context.Context) {
	hb := Heartbeat{
		InstanceID:    r.instance.ID,
		Address:       r.instance.Address,
		LastHeartbeat: r.clock.Now().UTC(),
	}
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeout)
		defer cancel()
		if err := r.store.SaveHeartbeat(writeCtx, hb, r.cfg.TTL); err != nil {
			r.logger.Warn("heartbeat_failed", zap.Stringer("instance_id", hb.InstanceID), zap.Error(err))
		}
	}()
}

// Wait blocks until outstanding heartbeat writes finish.
func (r *LivenessRegistry) Wait() {
	r.inflight.Wait()
}

// ListLive returns the ids of instances with a live heartbeat.
func (r *LivenessRegistry) ListLive(ctx context.Context) ([]uuid.UUID, error) {
	heartbeats, err := r.store.ListHeartbeats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list heartbeats: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(heartbeats))
	for _, hb := range heartbeats {
		ids = append(ids, hb.InstanceID)
	}
	return ids, nil
}

// Instances returns the live heartbeat records.
func (r *LivenessRegistry) Instances(ctx context.Context) ([]Heartbeat, error) {
	heartbeats, err := r.store.ListHeartbeats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list heartbeats: %w", err)
	}
	return heartbeats, nil
}

// Count returns the number of live instances, never less than one.
func (r *LivenessRegistry) Count(ctx context.Context) (int, error) {
	ids, err := r.ListLive(ctx)
	if err != nil {
		return 0, err
	}
	n := max(1, len(ids))
	r.metrics.liveInstances(n)
	return n, nil
}

// Share splits total work items evenly over the live instances, rounding up.
func (r *LivenessRegistry) Share(ctx context.Context, total int) (int, error) {
	if total <= 0 {
		return 0, nil
	}
	n, err := r.Count(ctx)
	if err != nil {
		return 0, err
	}
	return (total + n - 1) / n, nil
}

// Forget deletes this instance's heartbeat.
func (r *LivenessRegistry) Forget(ctx context.Context) error {
	if err := r.store.DeleteHeartbeat(ctx, r.instance.ID); err != nil {
		return fmt.Errorf("delete heartbeat: %w", err)
	}
	return nil
}

// Run heartbeats every interval until ctx is done, then forgets this instance.
func (r *LivenessRegistry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.cfg.TTL / 3
	}
	r.logger.Info("heartbeat_loop_started", zap.Stringer("instance_id", r.instance.ID), zap.Duration("interval", interval))
	for {
		r.Heartbeat(ctx)
		select {
		case <-ctx.Done():
			r.Wait()
			forgetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeout)
			if err := r.Forget(forgetCtx); err != nil {
				r.logger.Warn("heartbeat_forget_failed", zap.Stringer("instance_id", r.instance.ID), zap.Error(err))
			}
			cancel()
			r.logger.Info("heartbeat_loop_stopped", zap.Stringer("instance_id", r.instance.ID))
			return
		case <-r.clock.After(interval):
		}
	}
}
