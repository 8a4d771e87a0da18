package coordination

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LeaseRegistry acquires, renews and releases named leases on behalf of one instance.
type LeaseRegistry struct {
	store    LeaseStore
	instance Instance
	settings
}

func NewLeaseRegistry(store LeaseStore, instance Instance, opts ...Option) (*LeaseRegistry, error) {
	if store == nil {
		return nil, errors.New("lease store is required")
	}
	if instance.ID == uuid.Nil {
		return nil, errors.New("instance id is required")
	}
	return &LeaseRegistry{store: store, instance: instance, settings: newSettings(opts)}, nil
}

// Acquire claims leaseID if nobody holds it. false means another owner holds it.
func (r *LeaseRegistry) Acquire(ctx context.Context, leaseID string, ttl time.Duration) (bool, error) {
	lease, err := r.lease(leaseID, ttl)
	if err != nil {
		return false, err
	}
	start := time.Now()
	applied, err := r.store.InsertLease(ctx, lease, ttl)
	r.metrics.observe("lease_acquire", start)
	r.metrics.leaseOp("acquire", applied, err)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", lease.LeaseID, err)
	}
	if !applied {
		r.logger.Debug("lease_acquire_contended", zap.String("lease_id", lease.LeaseID), zap.Stringer("owner_id", r.instance.ID))
	}
	return applied, nil
}

// Renew extends leaseID if this instance still owns it. false means ownership was lost.
func (r *LeaseRegistry) Renew(ctx context.Context, leaseID string, ttl time.Duration) (bool, error) {
	lease, err := r.lease(leaseID, ttl)
	if err != nil {
		return false, err
	}
	start := time.Now()
	applied, err := r.store.RenewLease(ctx, lease, ttl)
	r.metrics.observe("lease_renew", start)
	r.metrics.leaseOp("renew", applied, err)
	if err != nil {
		return false, fmt.Errorf("renew lease %s: %w", lease.LeaseID, err)
	}
	if !applied {
		r.logger.Error("lease_renew_lost", zap.String("lease_id", lease.LeaseID), zap.Stringer("owner_id", r.instance.ID))
	}
	return applied, nil
}

// Release drops leaseID if this instance owns it. A release that does not
// apply is logged; the TTL reclaims the lease.
func (r *LeaseRegistry) Release(ctx context.Context, leaseID string) error {
	leaseID = strings.TrimSpace(leaseID)
	if leaseID == "" {
		return errors.New("lease id is required")
	}
	start := time.Now()
	applied, err := r.store.DeleteLease(ctx, leaseID, r.instance.ID)
	r.metrics.observe("lease_release", start)
	r.metrics.leaseOp("release", applied, err)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", leaseID, err)
	}
	if !applied {
		r.logger.Warn("lease_release_not_applied", zap.String("lease_id", leaseID), zap.Stringer("owner_id", r.instance.ID))
	}
	return nil
}

// ListOwners returns the ids of all live leases.
func (r *LeaseRegistry) ListOwners(ctx context.Context) ([]string, error) {
	leases, err := r.Leases(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(leases))
	for _, lease := range leases {
		ids = append(ids, lease.LeaseID)
	}
	return ids, nil
}

// Leases returns all live leases with owner detail, ordered by id.
func (r *LeaseRegistry) Leases(ctx context.Context) ([]Lease, error) {
	leases, err := r.store.ListLeases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list leases: %w", err)
	}
	sort.Slice(leases, func(i, j int) bool { return leases[i].LeaseID < leases[j].LeaseID })
	return leases, nil
}

func (r *LeaseRegistry) lease(leaseID string, ttl time.Duration) (Lease, error) {
	leaseID = strings.TrimSpace(leaseID)
	if leaseID == "" {
		return Lease{}, errors.New("lease id is required")
	}
	if ttl <= 0 {
		return Lease{}, ErrInvalidTTL
	}
	return Lease{
		LeaseID:      leaseID,
		OwnerID:      r.instance.ID,
		OwnerAddress: r.instance.Address,
		LastRenewal:  r.clock.Now().UTC(),
	}, nil
}
