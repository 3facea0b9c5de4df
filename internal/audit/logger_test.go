package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDB implements database.Querier and records batch inserts.
type fakeDB struct {
	mu      sync.Mutex
	batches int
	err     error
}

func (f *fakeDB) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	f.batches++
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (f *fakeDB) inserts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches
}

func assigned(n int) []Event {
	org := uuid.New()
	events := make([]Event, n)
	for i := range events {
		events[i] = Event{OrgID: org, Action: ActionUserRoleAssigned, Entity: "user_role"}
	}
	return events
}

func outcome(l *AsyncLogger, name string) float64 {
	return testutil.ToFloat64(l.outcomes.WithLabelValues(name))
}

func TestAsyncLogger_FlushesOnInterval(t *testing.T) {
	db := &fakeDB{}
	l := NewAsyncLogger(db, NewStore(), LoggerConfig{BatchSize: 10, FlushInterval: 20 * time.Millisecond}, nil)
	defer l.Close()

	l.Log(context.Background(), assigned(1)[0])

	assert.Eventually(t, func() bool { return db.inserts() == 1 }, time.Second, 10*time.Millisecond)
}

func TestAsyncLogger_FlushesOnBatchSize(t *testing.T) {
	db := &fakeDB{}
	l := NewAsyncLogger(db, NewStore(), LoggerConfig{BatchSize: 3, FlushInterval: time.Hour}, nil)
	defer l.Close()

	for _, e := range assigned(3) {
		l.Log(context.Background(), e)
	}

	assert.Eventually(t, func() bool { return db.inserts() == 1 }, time.Second, 10*time.Millisecond)
}

func TestAsyncLogger_CloseWritesBuffered(t *testing.T) {
	db := &fakeDB{}
	l := NewAsyncLogger(db, NewStore(), LoggerConfig{BatchSize: 100, FlushInterval: time.Hour}, nil)

	for _, e := range assigned(5) {
		l.Log(context.Background(), e)
	}
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.Equal(t, 1, db.inserts())
	assert.Equal(t, 5.0, outcome(l, "written"))
}

func TestAsyncLogger_EveryEventIsWrittenOrDropped(t *testing.T) {
	db := &fakeDB{}
	l := NewAsyncLogger(db, NewStore(), LoggerConfig{BufferSize: 2, BatchSize: 100, FlushInterval: time.Hour}, nil)

	for _, e := range assigned(10) {
		l.Log(context.Background(), e)
	}
	require.NoError(t, l.Close())

	assert.Equal(t, 10.0, outcome(l, "written")+outcome(l, "dropped"))
}

func TestAsyncLogger_CountsFailedWrites(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	reg := prometheus.NewRegistry()
	l := NewAsyncLogger(db, NewStore(), LoggerConfig{BatchSize: 100, FlushInterval: time.Hour, Registerer: reg}, nil)

	for _, e := range assigned(3) {
		l.Log(context.Background(), e)
	}
	require.NoError(t, l.Close())

	assert.Equal(t, 3.0, outcome(l, "failed"))
	n, err := testutil.GatherAndCount(reg, "pecora_audit_events_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
