package cassandra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"repaircoord/coordination"
)

const (
	defaultMaxReadRetries = 10
	defaultRetryDelay     = 100 * time.Millisecond

	writeTypeCAS      = "CAS"
	writeTypeBatchLog = "BATCH_LOG"
)

type failureKind int

const (
	failureFatal failureKind = iota
	failureReadTimeout
	failureWriteTimeout
	failureUnavailable
	failureRequest
)

func (k failureKind) String() string {
	switch k {
	case failureReadTimeout:
		return "read_timeout"
	case failureWriteTimeout:
		return "write_timeout"
	case failureUnavailable:
		return "unavailable"
	case failureRequest:
		return "request_error"
	default:
		return "fatal"
	}
}

// failure is the driver error reduced to what the retry decision needs.
type failure struct {
	kind        failureKind
	consistency gocql.Consistency
	writeType   string
	received    int
	blockFor    int
	dataPresent bool
}

func classify(err error) failure {
	var readTimeout *gocql.RequestErrReadTimeout
	var writeTimeout *gocql.RequestErrWriteTimeout
	var unavailable *gocql.RequestErrUnavailable
	var reqErr gocql.RequestError
	switch {
	case errors.As(err, &readTimeout):
		return failure{
			kind:        failureReadTimeout,
			consistency: readTimeout.Consistency,
			received:    readTimeout.Received,
			blockFor:    readTimeout.BlockFor,
			dataPresent: readTimeout.DataPresent != 0,
		}
	case errors.As(err, &writeTimeout):
		return failure{
			kind:        failureWriteTimeout,
			consistency: writeTimeout.Consistency,
			writeType:   writeTimeout.WriteType,
			received:    writeTimeout.Received,
			blockFor:    writeTimeout.BlockFor,
		}
	case errors.As(err, &unavailable):
		return failure{
			kind:        failureUnavailable,
			consistency: unavailable.Consistency,
			received:    unavailable.Alive,
			blockFor:    unavailable.Required,
		}
	case errors.As(err, &reqErr):
		switch reqErr.Code() {
		case gocql.ErrCodeOverloaded, gocql.ErrCodeServer, gocql.ErrCodeBootstrapping,
			gocql.ErrCodeReadFailure, gocql.ErrCodeWriteFailure:
			return failure{kind: failureRequest}
		}
		return failure{kind: failureFatal}
	case errors.Is(err, gocql.ErrTimeoutNoResponse),
		errors.Is(err, gocql.ErrNoConnections),
		errors.Is(err, gocql.ErrConnectionClosed):
		return failure{kind: failureRequest}
	default:
		return failure{kind: failureFatal}
	}
}

// mayHaveApplied reports whether a failed write could still have been
// committed after the client gave up on it.
func mayHaveApplied(err error) bool {
	if classify(err).kind == failureWriteTimeout {
		return true
	}
	return errors.Is(err, gocql.ErrTimeoutNoResponse) || errors.Is(err, gocql.ErrConnectionClosed)
}

// RetryPolicy decides whether a failed statement runs again.
//
// Idempotent reads that time out are retried up to MaxReadRetries times and
// idempotent writes that time out are retried without limit. Everything else
// gets the conservative treatment: at most one retry, and only when the
// failure says the request is safe to repeat.
type RetryPolicy struct {
	MaxReadRetries int
	Delay          time.Duration
}

// DefaultRetryPolicy returns the policy used for all coordination statements.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxReadRetries: defaultMaxReadRetries, Delay: defaultRetryDelay}
}

type decision struct {
	retry bool
	delay time.Duration
}

// decide returns the decision for the attempt-th retry (zero based) of a
// statement. A non-nil error is an invariant violation and must surface as is.
func (p RetryPolicy) decide(idempotent bool, f failure, attempt int) (decision, error) {
	switch f.kind {
	case failureReadTimeout:
		if idempotent {
			if attempt < p.MaxReadRetries {
				return p.retryAfter(attempt), nil
			}
			return decision{}, nil
		}
	case failureWriteTimeout:
		if f.writeType == writeTypeCAS && f.consistency != gocql.Consistency(gocql.Serial) {
			return decision{}, &coordination.InvariantError{
				Op:     "retry policy",
				Reason: fmt.Sprintf("CAS write timeout reported at %s, expected SERIAL", f.consistency),
			}
		}
		if idempotent {
			return p.retryAfter(attempt), nil
		}
	case failureUnavailable:
		if attempt == 1 {
			attempt = 0
		}
	}
	return p.conservative(idempotent, f, attempt), nil
}

func (p RetryPolicy) conservative(idempotent bool, f failure, attempt int) decision {
	if attempt != 0 {
		return decision{}
	}
	switch f.kind {
	case failureReadTimeout:
		return decision{retry: f.received >= f.blockFor && !f.dataPresent}
	case failureWriteTimeout:
		return decision{retry: f.writeType == writeTypeBatchLog}
	case failureUnavailable:
		return decision{retry: true}
	case failureRequest:
		return decision{retry: idempotent}
	default:
		return decision{}
	}
}

func (p RetryPolicy) retryAfter(attempt int) decision {
	if attempt == 0 {
		return decision{retry: true}
	}
	return decision{retry: true, delay: p.Delay}
}

// policyBackOff hands the delay chosen by the policy to backoff.Retry.
type policyBackOff struct {
	next time.Duration
}

func (b *policyBackOff) NextBackOff() time.Duration { return b.next }

func (b *policyBackOff) Reset() { b.next = 0 }

// Retrier executes statements under a RetryPolicy. The driver's own retries
// are disabled so that this is the only place a statement is repeated.
type Retrier struct {
	policy RetryPolicy
	logger *zap.Logger
}

func NewRetrier(policy RetryPolicy, logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{policy: policy, logger: logger}
}

// Do runs fn until it succeeds or the policy gives up.
func (r *Retrier) Do(ctx context.Context, op string, idempotent bool, fn func(ctx context.Context) error) error {
	bo := &policyBackOff{}
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		f := classify(err)
		d, invErr := r.policy.decide(idempotent, f, attempt)
		if invErr != nil {
			r.logger.Error("cassandra_invariant_violated", zap.String("op", op), zap.Error(invErr), zap.NamedError("cause", err))
			return struct{}{}, backoff.Permanent(invErr)
		}
		if !d.retry {
			return struct{}{}, backoff.Permanent(err)
		}
		attempt++
		bo.next = d.delay
		r.logger.Debug("cassandra_retry",
			zap.String("op", op),
			zap.Stringer("failure", f.kind),
			zap.Int("attempt", attempt),
			zap.Duration("delay", d.delay),
			zap.Error(err),
		)
		return struct{}{}, err
	}, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(0))
	return err
}
