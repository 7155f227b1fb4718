package orders_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homecooks/mealmarket/internal/cart"
	"github.com/homecooks/mealmarket/internal/models"
	"github.com/homecooks/mealmarket/internal/orders"
	"github.com/homecooks/mealmarket/internal/repository"
)

var errStoreDown = errors.New("store down")

// faultyStore fails or hangs inserts into one table once failAfter inserts
// into it have succeeded.
type faultyStore struct {
	inner       repository.RecordStore
	failTable   string
	failAfter   int
	hang        bool
	afterInsert func(table string)
	seen        *int
}

func (f faultyStore) Query(ctx context.Context, table string, flt repository.Filter) ([]repository.Record, error) {
	return f.inner.Query(ctx, table, flt)
}

func (f faultyStore) Insert(ctx context.Context, table string, rec repository.Record) (repository.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if table == f.failTable {
		if *f.seen >= f.failAfter {
			if f.hang {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return nil, errStoreDown
		}
		*f.seen++
	}
	out, err := f.inner.Insert(ctx, table, rec)
	if err == nil && f.afterInsert != nil {
		f.afterInsert(table)
	}
	return out, err
}

func (f faultyStore) Update(ctx context.Context, table, id string, patch repository.Record, guard repository.Filter) error {
	return f.inner.Update(ctx, table, id, patch, guard)
}

type faultyTxStore struct {
	faultyStore
	mem *repository.MemoryStore
}

func (f faultyTxStore) WithTx(ctx context.Context, fn func(repository.RecordStore) error) error {
	return f.mem.WithTx(ctx, func(tx repository.RecordStore) error {
		inner := f.faultyStore
		inner.inner = tx
		return fn(inner)
	})
}

type fixture struct {
	mem  *repository.MemoryStore
	repo *repository.OrderRepository
}

func newFixture(t *testing.T, transactional bool, configure func(*faultyStore)) *fixture {
	t.Helper()
	mem, err := repository.NewMemoryStore("")
	require.NoError(t, err)
	seen := 0
	fs := faultyStore{inner: mem, failAfter: 1 << 30, seen: &seen}
	if configure != nil {
		configure(&fs)
	}
	var rs repository.RecordStore = fs
	if transactional {
		rs = faultyTxStore{faultyStore: fs, mem: mem}
	}
	return &fixture{mem: mem, repo: repository.NewOrderRepository(rs)}
}

func (f *fixture) count(t *testing.T, table string) int {
	t.Helper()
	rows, err := f.mem.Query(context.Background(), table, repository.Filter{})
	require.NoError(t, err)
	return len(rows)
}

func scenarioCart(t *testing.T) *cart.Cart {
	t.Helper()
	c := cart.New()
	require.NoError(t, c.AddLine(models.Meal{ID: "apple", ChefID: "chef-1", Name: "Apple", Price: decimal.RequireFromString("3.50")}, 2))
	require.NoError(t, c.AddLine(models.Meal{ID: "soup", ChefID: "chef-1", Name: "Soup", Price: decimal.RequireFromString("12.00")}, 1))
	return c
}

func sumLineItems(items []models.OrderLineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, li := range items {
		sum = sum.Add(li.Subtotal())
	}
	return sum
}

func TestPlaceOrderAtomicHappyPath(t *testing.T) {
	fx := newFixture(t, true, nil)
	orch := orders.New(fx.repo)
	require.True(t, orch.Atomic())
	c := scenarioCart(t)

	placed, err := orch.PlaceOrder(context.Background(), c, "chef-1", "cust-1", models.DeliveryInstant)
	require.NoError(t, err)
	require.NotEmpty(t, placed.Order.ID)
	assert.Equal(t, models.OrderStatusPending, placed.Order.Status)
	assert.Equal(t, "chef-1", placed.Order.ChefID)
	assert.True(t, placed.Order.TotalAmount.Equal(decimal.RequireFromString("19.00")))
	require.Len(t, placed.LineItems, 2)
	assert.True(t, sumLineItems(placed.LineItems).Equal(placed.Order.TotalAmount))
	assert.True(t, c.IsEmpty(), "cart is cleared after success")

	assert.Equal(t, 1, fx.count(t, repository.TableOrders))
	assert.Equal(t, 2, fx.count(t, repository.TableOrderLineItems))
	assert.Equal(t, 1, fx.count(t, repository.TableOrderEvents))

	stored, err := fx.repo.ListLineItems(context.Background(), placed.Order.ID)
	require.NoError(t, err)
	assert.True(t, sumLineItems(stored).Equal(placed.Order.TotalAmount))
}

func TestPlaceOrderTwoPhaseHappyPath(t *testing.T) {
	fx := newFixture(t, false, nil)
	orch := orders.New(fx.repo)
	require.False(t, orch.Atomic())

	placed, err := orch.PlaceOrder(context.Background(), scenarioCart(t), "", "cust-1", models.DeliveryScheduled)
	require.NoError(t, err)
	assert.Equal(t, "chef-1", placed.Order.ChefID, "chef comes from the cart")
	assert.Equal(t, models.DeliveryScheduled, placed.Order.DeliveryType)
	assert.Equal(t, 2, fx.count(t, repository.TableOrderLineItems))
	assert.Equal(t, 1, fx.count(t, repository.TableOrderEvents))
}

func TestPlaceOrderSnapshotSurvivesPriceChange(t *testing.T) {
	fx := newFixture(t, true, nil)
	ctx := context.Background()
	meal := models.Meal{ID: "soup", ChefID: "chef-1", Name: "Soup", Price: decimal.RequireFromString("12.00"),
		IsAvailable: true, CreatedAt: time.Now()}
	_, err := fx.mem.Insert(ctx, repository.TableMeals, repository.MealRecord(meal))
	require.NoError(t, err)

	c := cart.New()
	require.NoError(t, c.AddLine(meal, 2))
	placed, err := orders.New(fx.repo).PlaceOrder(ctx, c, "chef-1", "cust-1", models.DeliveryInstant)
	require.NoError(t, err)

	require.NoError(t, fx.mem.Update(ctx, repository.TableMeals, "soup",
		repository.Record{"price": decimal.RequireFromString("99.00")}, repository.Filter{}))

	stored, err := fx.repo.ListLineItems(ctx, placed.Order.ID)
	require.NoError(t, err)
	assert.True(t, sumLineItems(stored).Equal(decimal.RequireFromString("24.00")))
	got, err := fx.repo.GetOrder(ctx, placed.Order.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalAmount.Equal(decimal.RequireFromString("24.00")))
}

func TestPlaceOrderPreconditions(t *testing.T) {
	otherChef := scenarioCart(t)
	require.NoError(t, otherChef.AddLine(models.Meal{ID: "pie", ChefID: "chef-2", Price: decimal.NewFromInt(4)}, 1))
	noChef := cart.New()
	require.NoError(t, noChef.AddLine(models.Meal{ID: "pie", Price: decimal.NewFromInt(4)}, 1))

	tests := []struct {
		name     string
		cart     *cart.Cart
		chef     string
		customer string
		delivery models.DeliveryType
		want     error
	}{
		{"no customer", scenarioCart(t), "chef-1", "", models.DeliveryInstant, orders.ErrUnauthenticated},
		{"empty cart", cart.New(), "chef-1", "cust-1", models.DeliveryInstant, orders.ErrEmptyCart},
		{"nil cart", nil, "chef-1", "cust-1", models.DeliveryInstant, orders.ErrEmptyCart},
		{"bad delivery type", scenarioCart(t), "chef-1", "cust-1", "teleport", orders.ErrInvalidDeliveryType},
		{"mixed chefs", otherChef, "", "cust-1", models.DeliveryInstant, orders.ErrMixedChefs},
		{"wrong chef", scenarioCart(t), "chef-2", "cust-1", models.DeliveryInstant, orders.ErrMixedChefs},
		{"no chef", noChef, "", "cust-1", models.DeliveryInstant, orders.ErrChefRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, true, nil)
			placed, err := orders.New(fx.repo).PlaceOrder(context.Background(), tt.cart, tt.chef, tt.customer, tt.delivery)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, placed)
			assert.Equal(t, 0, fx.count(t, repository.TableOrders), "no write before validation passes")
		})
	}
}

func TestPlaceOrderCreateFailed(t *testing.T) {
	for _, transactional := range []bool{true, false} {
		fx := newFixture(t, transactional, func(fs *faultyStore) {
			fs.failTable = repository.TableOrders
			fs.failAfter = 0
		})
		c := scenarioCart(t)
		placed, err := orders.New(fx.repo).PlaceOrder(context.Background(), c, "chef-1", "cust-1", models.DeliveryInstant)
		assert.Nil(t, placed)
		assert.ErrorIs(t, err, orders.ErrOrderCreateFailed)
		assert.ErrorIs(t, err, errStoreDown)
		assert.NotErrorIs(t, err, orders.ErrTimeout)
		assert.Equal(t, 0, fx.count(t, repository.TableOrders))
		assert.Equal(t, 2, c.Len(), "cart survives a failed order")
	}
}

func TestPlaceOrderTwoPhaseSnapshotFailureLeavesNoOrder(t *testing.T) {
	mem, err := repository.NewMemoryStore(filepath.Join(t.TempDir(), "missing", "store.json"))
	require.NoError(t, err)
	orch := orders.New(repository.NewOrderRepository(mem), orders.WithAtomic(false))

	placed, err := orch.PlaceOrder(context.Background(), scenarioCart(t), "chef-1", "cust-1", models.DeliveryInstant)
	assert.Nil(t, placed)
	assert.ErrorIs(t, err, orders.ErrOrderCreateFailed)

	rows, err := mem.Query(context.Background(), repository.TableOrders, repository.Filter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPlaceOrderTwoPhaseLineItemsPartiallyFailed(t *testing.T) {
	fx := newFixture(t, false, func(fs *faultyStore) {
		fs.failTable = repository.TableOrderLineItems
		fs.failAfter = 1
	})
	c := scenarioCart(t)

	placed, err := orders.New(fx.repo).PlaceOrder(context.Background(), c, "chef-1", "cust-1", models.DeliveryInstant)
	assert.Nil(t, placed)
	require.ErrorIs(t, err, orders.ErrLineItemsPartiallyFailed)
	assert.NotErrorIs(t, err, orders.ErrOrderCreateFailed)

	var oe *orders.OrderError
	require.ErrorAs(t, err, &oe)
	assert.NotEmpty(t, oe.OrderID)
	assert.Equal(t, 1, oe.Written)
	assert.Equal(t, "line_items_partially_failed", orders.Code(err))

	assert.Equal(t, 1, fx.count(t, repository.TableOrders), "order row is left in place")
	assert.Equal(t, 1, fx.count(t, repository.TableOrderLineItems))
	assert.Equal(t, 0, fx.count(t, repository.TableOrderEvents))
	assert.Equal(t, 2, c.Len())
}

func TestPlaceOrderAtomicLineItemFailureLeavesNothing(t *testing.T) {
	fx := newFixture(t, true, func(fs *faultyStore) {
		fs.failTable = repository.TableOrderLineItems
		fs.failAfter = 1
	})

	_, err := orders.New(fx.repo).PlaceOrder(context.Background(), scenarioCart(t), "chef-1", "cust-1", models.DeliveryInstant)
	assert.ErrorIs(t, err, orders.ErrOrderCreateFailed)
	assert.NotErrorIs(t, err, orders.ErrLineItemsPartiallyFailed)
	assert.Equal(t, 0, fx.count(t, repository.TableOrders))
	assert.Equal(t, 0, fx.count(t, repository.TableOrderLineItems))
}

func TestPlaceOrderTimeoutOnOrderInsert(t *testing.T) {
	fx := newFixture(t, false, func(fs *faultyStore) {
		fs.failTable = repository.TableOrders
		fs.failAfter = 0
		fs.hang = true
	})
	orch := orders.New(fx.repo, orders.WithCallTimeout(20*time.Millisecond))

	_, err := orch.PlaceOrder(context.Background(), scenarioCart(t), "chef-1", "cust-1", models.DeliveryInstant)
	assert.ErrorIs(t, err, orders.ErrTimeout)
	assert.NotErrorIs(t, err, orders.ErrOrderCreateFailed)
	assert.Equal(t, "timeout", orders.Code(err))
}

func TestPlaceOrderTimeoutOnLineItem(t *testing.T) {
	fx := newFixture(t, false, func(fs *faultyStore) {
		fs.failTable = repository.TableOrderLineItems
		fs.failAfter = 0
		fs.hang = true
	})
	orch := orders.New(fx.repo, orders.WithCallTimeout(20*time.Millisecond))

	_, err := orch.PlaceOrder(context.Background(), scenarioCart(t), "chef-1", "cust-1", models.DeliveryInstant)
	assert.ErrorIs(t, err, orders.ErrTimeout)
	assert.ErrorIs(t, err, orders.ErrLineItemsPartiallyFailed)
	var oe *orders.OrderError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, 0, oe.Written)
	assert.NotEmpty(t, oe.OrderID)
}

func TestPlaceOrderIgnoresCancelAfterOrderRow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx := newFixture(t, false, func(fs *faultyStore) {
		fs.afterInsert = func(table string) {
			if table == repository.TableOrders {
				cancel()
			}
		}
	})

	placed, err := orders.New(fx.repo).PlaceOrder(ctx, scenarioCart(t), "chef-1", "cust-1", models.DeliveryInstant)
	require.NoError(t, err)
	assert.Len(t, placed.LineItems, 2)
	assert.Equal(t, 2, fx.count(t, repository.TableOrderLineItems))
}

func TestPlaceOrderTwoPhaseEventFailureStillSucceeds(t *testing.T) {
	fx := newFixture(t, false, func(fs *faultyStore) {
		fs.failTable = repository.TableOrderEvents
		fs.failAfter = 0
	})
	placed, err := orders.New(fx.repo).PlaceOrder(context.Background(), scenarioCart(t), "chef-1", "cust-1", models.DeliveryInstant)
	require.NoError(t, err)
	assert.NotEmpty(t, placed.Order.ID)
	assert.Equal(t, 2, fx.count(t, repository.TableOrderLineItems))
}

type transition struct {
	orderID  string
	from, to models.OrderStatus
	actor    models.Role
}

type recorder struct {
	got []transition
}

func (r *recorder) RecordTransition(orderID string, from, to models.OrderStatus, actor models.Role) {
	r.got = append(r.got, transition{orderID, from, to, actor})
}

func placeOne(t *testing.T, orch *orders.Orchestrator) string {
	t.Helper()
	placed, err := orch.PlaceOrder(context.Background(), scenarioCart(t), "chef-1", "cust-1", models.DeliveryInstant)
	require.NoError(t, err)
	return placed.Order.ID
}

func TestUpdateStatusLifecycle(t *testing.T) {
	for _, transactional := range []bool{true, false} {
		fx := newFixture(t, transactional, nil)
		rec := &recorder{}
		orch := orders.New(fx.repo, orders.WithTransitionRecorder(rec))
		id := placeOne(t, orch)
		ctx := context.Background()

		for _, next := range []models.OrderStatus{models.OrderStatusPreparing, models.OrderStatusReady, models.OrderStatusDelivered} {
			require.NoError(t, orch.UpdateStatus(ctx, id, next, models.RoleChef))
		}
		got, err := fx.repo.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusDelivered, got.Status)

		require.Len(t, rec.got, 3)
		assert.Equal(t, transition{id, models.OrderStatusReady, models.OrderStatusDelivered, models.RoleChef}, rec.got[2])
		assert.Equal(t, 4, fx.count(t, repository.TableOrderEvents))
	}
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	fx := newFixture(t, true, nil)
	rec := &recorder{}
	orch := orders.New(fx.repo, orders.WithTransitionRecorder(rec))
	id := placeOne(t, orch)
	ctx := context.Background()
	for _, next := range []models.OrderStatus{models.OrderStatusPreparing, models.OrderStatusReady, models.OrderStatusDelivered} {
		require.NoError(t, orch.UpdateStatus(ctx, id, next, models.RoleChef))
	}

	err := orch.UpdateStatus(ctx, id, models.OrderStatusPreparing, models.RoleChef)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)

	got, _ := fx.repo.GetOrder(ctx, id)
	assert.Equal(t, models.OrderStatusDelivered, got.Status, "stored status unchanged")
	assert.Len(t, rec.got, 3)
}

func TestUpdateStatusCancelOnlyFromPending(t *testing.T) {
	fx := newFixture(t, true, nil)
	orch := orders.New(fx.repo)
	ctx := context.Background()

	id := placeOne(t, orch)
	require.NoError(t, orch.UpdateStatus(ctx, id, models.OrderStatusCancelled, models.RoleCustomer))
	assert.ErrorIs(t, orch.UpdateStatus(ctx, id, models.OrderStatusPreparing, models.RoleChef), orders.ErrInvalidTransition)

	id = placeOne(t, orch)
	require.NoError(t, orch.UpdateStatus(ctx, id, models.OrderStatusPreparing, models.RoleChef))
	assert.ErrorIs(t, orch.UpdateStatus(ctx, id, models.OrderStatusCancelled, models.RoleCustomer), orders.ErrInvalidTransition)
}

func TestUpdateStatusErrors(t *testing.T) {
	fx := newFixture(t, true, nil)
	orch := orders.New(fx.repo)
	ctx := context.Background()

	assert.ErrorIs(t, orch.UpdateStatus(ctx, "ghost", models.OrderStatusPreparing, models.RoleChef), orders.ErrOrderNotFound)
	assert.ErrorIs(t, orch.UpdateStatus(ctx, "", models.OrderStatusPreparing, models.RoleChef), orders.ErrOrderNotFound)

	id := placeOne(t, orch)
	assert.ErrorIs(t, orch.UpdateStatus(ctx, id, "shipped", models.RoleChef), orders.ErrInvalidTransition)
}

func TestOrderDetails(t *testing.T) {
	fx := newFixture(t, true, nil)
	orch := orders.New(fx.repo)
	id := placeOne(t, orch)

	details, err := orch.OrderDetails(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, details.Order.ID)
	assert.Len(t, details.LineItems, 2)

	_, err = orch.OrderDetails(context.Background(), "ghost")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}
