package sqlserver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	mssql "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"
)

// Server errors after which the statement, or the whole transaction, was
// rolled back and may run again unchanged.
const (
	errDeadlockVictim      = 1205
	errLockTimeout         = 1222
	errSnapshotConflict    = 3960
	errReconfiguration     = 40197
	errServiceBusy         = 40501
	errDatabaseUnavailable = 40613
)

type failureKind int

const (
	failureFatal failureKind = iota
	failureRolledBack
	failureConnection
)

func (k failureKind) String() string {
	switch k {
	case failureRolledBack:
		return "rolled_back"
	case failureConnection:
		return "connection"
	default:
		return "fatal"
	}
}

func classify(err error) failureKind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return failureFatal
	}
	var mssqlErr mssql.Error
	if errors.As(err, &mssqlErr) {
		switch mssqlErr.Number {
		case errDeadlockVictim, errLockTimeout, errSnapshotConflict,
			errReconfiguration, errServiceBusy, errDatabaseUnavailable:
			return failureRolledBack
		}
		return failureFatal
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return failureConnection
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return failureConnection
	}
	return failureFatal
}

// RetryPolicy bounds how often a failed statement runs again. Rolled-back
// failures are always retried; a dropped connection only for idempotent
// operations, since the server may have committed before the connection went.
type RetryPolicy struct {
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second}
}

func (p RetryPolicy) retryable(kind failureKind, idempotent bool) bool {
	switch kind {
	case failureRolledBack:
		return true
	case failureConnection:
		return idempotent
	default:
		return false
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	return b
}

// retry runs fn until it succeeds, fails for good or the policy runs out of
// attempts.
func (s *Store) retry(ctx context.Context, op string, idempotent bool, fn func(ctx context.Context) error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		kind := classify(err)
		if !s.policy.retryable(kind, idempotent) {
			return struct{}{}, backoff.Permanent(err)
		}
		attempt++
		s.logger.Debug("sqlserver_retry",
			zap.String("op", op),
			zap.Stringer("failure", kind),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return struct{}{}, err
	}, backoff.WithBackOff(s.policy.backOff()), backoff.WithMaxTries(s.policy.MaxAttempts))
	return err
}
