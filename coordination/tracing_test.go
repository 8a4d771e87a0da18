package coordination_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	"repaircoord/coordination"
	"repaircoord/coordination/mocks"
)

func newTracedStore(t *testing.T, next coordination.Store) (coordination.Store, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return coordination.NewTracedStore(next, provider.Tracer(coordination.TracerName)), recorder
}

func TestTracedStoreRecordsSpans(t *testing.T) {
	store, recorder := newTracedStore(t, newMemStore(nil))
	ctx := context.Background()
	runID := uuid.New()

	_, err := store.InsertLease(ctx, coordination.Lease{LeaseID: "scheduler", OwnerID: uuid.New()}, time.Minute)
	require.NoError(t, err)
	_, err = store.ApplyNodeLocks(ctx, coordination.LockBatch{
		Op:    coordination.LockAcquire,
		RunID: runID,
		Nodes: []string{"n1", "n2"},
		Owner: uuid.New(),
		TTL:   time.Minute,
	})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "lease.insert", spans[0].Name())
	assert.Equal(t, "node_lock.apply", spans[1].Name())

	attrs := map[string]string{}
	for _, kv := range spans[1].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, runID.String(), attrs["coordination.run_id"])
	assert.Equal(t, "lock", attrs["coordination.lock_op"])
	assert.Equal(t, "2", attrs["coordination.node_count"])
	assert.Equal(t, "true", attrs["coordination.applied"])
}

func TestTracedStoreRecordsErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockStore(ctrl)
	inner.EXPECT().ListLeases(gomock.Any()).Return(nil, errors.New("unavailable"))

	store, recorder := newTracedStore(t, inner)
	_, err := store.ListLeases(context.Background())
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "operation failed", spans[0].Status().Description)
	assert.Len(t, spans[0].Events(), 1)
}

func TestNewTracedStoreWithoutTracer(t *testing.T) {
	inner := newMemStore(nil)
	assert.Same(t, inner, coordination.NewTracedStore(inner, nil))
}
