package audit

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homecooks/mealmarket/internal/models"
)

type collector struct {
	mu      sync.Mutex
	batches [][]AuditLog
}

func (c *collector) Process(batch []AuditLog) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, append([]AuditLog(nil), batch...))
	return nil
}

func (c *collector) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func TestPoolFlushesFullBatch(t *testing.T) {
	col := &collector{}
	pool := NewAuditWorkerPool(AuditPoolConfig{BatchSize: 2, Timeout: time.Hour, ChannelSize: 10}, col)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx, 1)

	pool.RecordTransition("o-1", models.OrderStatusPending, models.OrderStatusPreparing, models.RoleChef)
	pool.RecordTransition("o-1", models.OrderStatusPreparing, models.OrderStatusReady, models.RoleChef)

	assert.Eventually(t, func() bool { return col.total() == 2 }, time.Second, 5*time.Millisecond)
	pool.Shutdown(cancel)

	first := col.batches[0][0]
	assert.Equal(t, "o-1", first.OrderID)
	assert.Equal(t, "pending", first.OldState)
	assert.Equal(t, "preparing", first.NewState)
	assert.Equal(t, "chef", first.Actor)
}

func TestPoolFlushesOnTimer(t *testing.T) {
	col := &collector{}
	pool := NewAuditWorkerPool(AuditPoolConfig{BatchSize: 100, Timeout: 10 * time.Millisecond}, col)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx, 2)
	defer pool.Shutdown(cancel)

	pool.Log(AuditLog{OrderID: "o-1"})
	assert.Eventually(t, func() bool { return col.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPoolFlushesOnShutdown(t *testing.T) {
	col := &collector{}
	pool := NewAuditWorkerPool(AuditPoolConfig{BatchSize: 100, Timeout: time.Hour, ChannelSize: 10}, col)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx, 1)

	for i := 0; i < 3; i++ {
		pool.Log(AuditLog{OrderID: "o-1"})
	}
	pool.Shutdown(cancel)
	assert.Equal(t, 3, col.total())
}

func TestLogDropsWhenFull(t *testing.T) {
	col := &collector{}
	pool := NewAuditWorkerPool(AuditPoolConfig{BatchSize: 10, Timeout: time.Hour, ChannelSize: 1}, col)
	pool.Log(AuditLog{OrderID: "kept"})
	pool.Log(AuditLog{OrderID: "dropped"})

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx, 1)
	pool.Shutdown(cancel)
	require.Equal(t, 1, col.total())
	assert.Equal(t, "kept", col.batches[0][0].OrderID)
}

func TestDBProcessor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO audit_logs (timestamp, order_id, old_state, new_state, actor, message) VALUES ($1,$2,$3,$4,$5,$6),($7,$8,$9,$10,$11,$12)`)).
		WithArgs(at, "o-1", "pending", "preparing", "chef", "m1", at, "o-2", "pending", "cancelled", "customer", "m2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err = NewDBProcessor(db).Process([]AuditLog{
		{Timestamp: at, OrderID: "o-1", OldState: "pending", NewState: "preparing", Actor: "chef", Message: "m1"},
		{Timestamp: at, OrderID: "o-2", OldState: "pending", NewState: "cancelled", Actor: "customer", Message: "m2"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
