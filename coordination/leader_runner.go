package coordination

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LeaderConfig defines the lease timing for leader-only duties.
type LeaderConfig struct {
	LeaseID         string
	LeaseTTL        time.Duration
	RenewInterval   time.Duration
	AcquireInterval time.Duration
}

func (c LeaderConfig) withDefaults() LeaderConfig {
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = DefaultLeaseTTL
	}
	if c.RenewInterval <= 0 {
		c.RenewInterval = c.LeaseTTL / 3
	}
	if c.AcquireInterval <= 0 {
		c.AcquireInterval = c.LeaseTTL / 3
	}
	return c
}

// LeaderTask runs while the lease is held and must return once ctx is done.
type LeaderTask func(ctx context.Context)

// LeaderRunner competes for one lease and runs task while holding it.
type LeaderRunner struct {
	leases   *LeaseRegistry
	task     LeaderTask
	cfg      LeaderConfig
	instance Instance
	settings

	mu     sync.Mutex
	status LeaseStatus
}

func NewLeaderRunner(leases *LeaseRegistry, cfg LeaderConfig, task LeaderTask, opts ...Option) (*LeaderRunner, error) {
	if leases == nil {
		return nil, errors.New("lease registry is required")
	}
	if strings.TrimSpace(cfg.LeaseID) == "" {
		return nil, errors.New("lease id is required")
	}
	if task == nil {
		return nil, errors.New("leader task is required")
	}
	r := &LeaderRunner{
		leases:   leases,
		task:     task,
		cfg:      cfg.withDefaults(),
		instance: leases.instance,
		settings: newSettings(opts),
	}
	r.status = r.followerStatus()
	return r, nil
}

func (r *LeaderRunner) Run(ctx context.Context) {
	r.setStatus(r.followerStatus())

	for {
		select {
		case <-ctx.Done():
			r.setStatus(r.followerStatus())
			return
		default:
		}

		acquired, err := r.leases.Acquire(ctx, r.cfg.LeaseID, r.cfg.LeaseTTL)
		if err != nil {
			r.logger.Warn("leader_acquire_failed", zap.String("lease_id", r.cfg.LeaseID), zap.Stringer("owner_id", r.instance.ID), zap.Error(err))
		} else if acquired {
			r.runLeader(ctx)
		}

		if !sleepWithContext(ctx, r.clock, r.cfg.AcquireInterval) {
			r.setStatus(r.followerStatus())
			return
		}
	}
}

func (r *LeaderRunner) Status() LeaseStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *LeaderRunner) IsLeader() bool {
	return r.Status().Mode == leaseModeLeader
}

func (r *LeaderRunner) runLeader(ctx context.Context) {
	lostCh := make(chan error, 1)
	var lostOnce sync.Once
	signalLoss := func(err error) {
		lostOnce.Do(func() {
			lostCh <- err
		})
	}

	r.setStatus(r.leaderStatus())
	r.metrics.leader(true)
	r.logger.Info("leader_acquired", zap.String("lease_id", r.cfg.LeaseID), zap.Stringer("owner_id", r.instance.ID))

	leaderCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.task(leaderCtx)
	}()
	go func() {
		defer wg.Done()
		r.runRenewLoop(leaderCtx, signalLoss)
	}()

	var lossErr error
	select {
	case <-ctx.Done():
	case lossErr = <-lostCh:
	}
	cancel()
	wg.Wait()
	r.dropLeadership(lossErr)
}

func (r *LeaderRunner) runRenewLoop(ctx context.Context, signalLoss func(error)) {
	for {
		if !sleepWithContext(ctx, r.clock, r.cfg.RenewInterval) {
			return
		}
		ok, err := r.leases.Renew(ctx, r.cfg.LeaseID, r.cfg.LeaseTTL)
		if ctx.Err() != nil {
			return
		}
		if err != nil || !ok {
			if err != nil {
				r.logger.Error("leader_renew_failed", zap.String("lease_id", r.cfg.LeaseID), zap.Error(err))
			} else {
				r.logger.Error("leader_renew_failed", zap.String("lease_id", r.cfg.LeaseID))
				err = ErrLostOwnership
			}
			signalLoss(err)
			return
		}
		r.setStatus(r.leaderStatus())
		r.logger.Debug("leader_renewed", zap.String("lease_id", r.cfg.LeaseID))
	}
}

func (r *LeaderRunner) dropLeadership(err error) {
	r.setStatus(r.followerStatus())
	r.metrics.leader(false)
	if err != nil {
		r.logger.Warn("leader_lost", zap.String("lease_id", r.cfg.LeaseID), zap.Error(err))
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.Background(), r.cfg.RenewInterval)
	defer cancel()
	if relErr := r.leases.Release(releaseCtx, r.cfg.LeaseID); relErr != nil {
		r.logger.Warn("leader_release_failed", zap.String("lease_id", r.cfg.LeaseID), zap.Error(relErr))
	}
	r.logger.Info("leader_stepped_down", zap.String("lease_id", r.cfg.LeaseID))
}

func (r *LeaderRunner) leaderStatus() LeaseStatus {
	return LeaseStatus{Mode: leaseModeLeader, LeaseID: r.cfg.LeaseID, OwnerID: r.instance.ID, LastRenewal: r.clock.Now().UTC()}
}

func (r *LeaderRunner) followerStatus() LeaseStatus {
	return LeaseStatus{Mode: leaseModeFollower, LeaseID: r.cfg.LeaseID, OwnerID: r.instance.ID}
}

func (r *LeaderRunner) setStatus(status LeaseStatus) {
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
}

func sleepWithContext(ctx context.Context, clock Clock, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-clock.After(delay):
		return true
	}
}
