// Package sqlserver implements the coordination store on SQL Server, using
// conditional UPDATE/INSERT for leases and serializable transactions for node
// lock batches.
package sqlserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"repaircoord/coordination"
)

// Store implements coordination.Store on a SQL Server database.
type Store struct {
	db     *sql.DB
	policy RetryPolicy
	logger *zap.Logger
}

var _ coordination.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(s *Store) {
		s.policy = policy
	}
}

// New wraps an open database.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	s := &Store{db: db, policy: DefaultRetryPolicy(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlserver dsn is required")
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlserver: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlserver: %w", err)
	}
	return New(db, opts...)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) insertLease(ctx context.Context, lease coordination.Lease, ttl time.Duration) (bool, error) {
	ttlMs := ttl.Milliseconds()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE dbo.leases
     SET owner_id = @p1,
         owner_address = @p2,
         last_renewal = SYSUTCDATETIME(),
         expires_at = DATEADD(MILLISECOND, @p3, SYSUTCDATETIME())
     WHERE lease_id = @p4 AND expires_at <= SYSUTCDATETIME()`,
		lease.OwnerID.String(),
		lease.OwnerAddress,
		ttlMs,
		lease.LeaseID,
	)
	if err != nil {
		return false, fmt.Errorf("take over lease %s: %w", lease.LeaseID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n == 1 {
		return true, nil
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO dbo.leases (lease_id, owner_id, owner_address, last_renewal, expires_at)
     VALUES (@p1, @p2, @p3, SYSUTCDATETIME(), DATEADD(MILLISECOND, @p4, SYSUTCDATETIME()))`,
		lease.LeaseID,
		lease.OwnerID.String(),
		lease.OwnerAddress,
		ttlMs,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert lease %s: %w", lease.LeaseID, err)
	}
	return true, nil
}

func (s *Store) renewLease(ctx context.Context, lease coordination.Lease, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE dbo.leases
     SET owner_address = @p1,
         last_renewal = SYSUTCDATETIME(),
         expires_at = DATEADD(MILLISECOND, @p2, SYSUTCDATETIME())
     WHERE lease_id = @p3
       AND owner_id = @p4
       AND expires_at > SYSUTCDATETIME()`,
		lease.OwnerAddress,
		ttl.Milliseconds(),
		lease.LeaseID,
		lease.OwnerID.String(),
	)
	if err != nil {
		return false, fmt.Errorf("renew lease %s: %w", lease.LeaseID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) deleteLease(ctx context.Context, leaseID string, owner uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM dbo.leases
     WHERE lease_id = @p1
       AND owner_id = @p2
       AND expires_at > SYSUTCDATETIME()`,
		leaseID,
		owner.String(),
	)
	if err != nil {
		return false, fmt.Errorf("delete lease %s: %w", leaseID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) listLeases(ctx context.Context) ([]coordination.Lease, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT lease_id, owner_id, owner_address, last_renewal
     FROM dbo.leases
     WHERE expires_at > SYSUTCDATETIME()
     ORDER BY lease_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list leases: %w", err)
	}
	defer rows.Close()

	var leases []coordination.Lease
	for rows.Next() {
		var (
			lease   coordination.Lease
			owner   sql.NullString
			renewal time.Time
		)
		if err := rows.Scan(&lease.LeaseID, &owner, &lease.OwnerAddress, &renewal); err != nil {
			return nil, err
		}
		if lease.OwnerID, err = parseNullUUID(owner); err != nil {
			return nil, err
		}
		lease.LastRenewal = normalizeDBTime(renewal)
		leases = append(leases, lease)
	}
	return leases, rows.Err()
}

func (s *Store) saveHeartbeat(ctx context.Context, hb coordination.Heartbeat, ttl time.Duration) error {
	_, err := s.db.ExecContext(
		ctx,
		`MERGE dbo.heartbeats WITH (HOLDLOCK) AS target
     USING (SELECT @p1 AS instance_id) AS source
     ON target.instance_id = source.instance_id
     WHEN MATCHED THEN
       UPDATE SET address = @p2,
                  last_heartbeat = SYSUTCDATETIME(),
                  expires_at = DATEADD(MILLISECOND, @p3, SYSUTCDATETIME())
     WHEN NOT MATCHED THEN
       INSERT (instance_id, address, last_heartbeat, expires_at)
       VALUES (@p1, @p2, SYSUTCDATETIME(), DATEADD(MILLISECOND, @p3, SYSUTCDATETIME()));`,
		hb.InstanceID.String(),
		hb.Address,
		ttl.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("save heartbeat %s: %w", hb.InstanceID, err)
	}
	return nil
}

func (s *Store) deleteHeartbeat(ctx context.Context, instanceID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dbo.heartbeats WHERE instance_id = @p1`, instanceID.String()); err != nil {
		return fmt.Errorf("delete heartbeat %s: %w", instanceID, err)
	}
	return nil
}

func (s *Store) listHeartbeats(ctx context.Context) ([]coordination.Heartbeat, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT instance_id, address, last_heartbeat
     FROM dbo.heartbeats
     WHERE expires_at > SYSUTCDATETIME()
     ORDER BY instance_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list heartbeats: %w", err)
	}
	defer rows.Close()

	var beats []coordination.Heartbeat
	for rows.Next() {
		var (
			hb   coordination.Heartbeat
			id   sql.NullString
			last time.Time
		)
		if err := rows.Scan(&id, &hb.Address, &last); err != nil {
			return nil, err
		}
		if hb.InstanceID, err = parseNullUUID(id); err != nil {
			return nil, err
		}
		hb.LastHeartbeat = normalizeDBTime(last)
		beats = append(beats, hb)
	}
	return beats, rows.Err()
}
