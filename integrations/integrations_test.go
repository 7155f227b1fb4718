package integrations

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homecooks/mealmarket/internal/audit"
	"github.com/homecooks/mealmarket/internal/cart"
	"github.com/homecooks/mealmarket/internal/db"
	"github.com/homecooks/mealmarket/internal/models"
	"github.com/homecooks/mealmarket/internal/orders"
	"github.com/homecooks/mealmarket/internal/repository"
	"github.com/homecooks/mealmarket/migrations"
)

var tables = []string{"audit_logs", "order_events", "order_line_items", "orders", "meals", "availability_windows", "chefs"}

// openTestDB connects to TEST_DSN and migrates it; tests are skipped when it
// is not set.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DSN")
	if dsn == "" {
		t.Skip("TEST_DSN is not set")
	}
	database, err := db.NewDB(context.Background(), dsn, migrations.FS)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	truncate(t, database)
	return database
}

func truncate(t *testing.T, database *sql.DB) {
	t.Helper()
	for _, table := range tables {
		_, err := database.Exec("TRUNCATE " + table + " CASCADE")
		require.NoError(t, err)
	}
}

func seed(t *testing.T, store repository.RecordStore) {
	t.Helper()
	ctx := context.Background()
	readyUntil := time.Now().Add(time.Hour)
	_, err := store.Insert(ctx, repository.TableChefs, repository.ChefRecord(models.ChefProfile{
		ID: "chef-1", BusinessName: "Home Kitchen",
		Location:         &models.GeoPoint{Latitude: 41.01, Longitude: 29.01},
		DeliveryRadiusKm: 5, IsActive: true, CreatedAt: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, err)
	_, err = store.Insert(ctx, repository.TableAvailabilityWindows, repository.WindowRecord(models.AvailabilityWindow{
		ChefID: "chef-1", DayOfWeek: time.Now().Weekday(), StartTime: "09:00", EndTime: "21:00", IsActive: true,
	}))
	require.NoError(t, err)
	for _, m := range []models.Meal{
		{ID: "soup", ChefID: "chef-1", Name: "Soup", Price: decimal.RequireFromString("12.50"), IsAvailable: true, ReadyNow: true, ReadyUntil: &readyUntil, Servings: 1},
		{ID: "bread", ChefID: "chef-1", Name: "Bread", Price: decimal.RequireFromString("3.00"), IsAvailable: true, Servings: 4},
	} {
		m.CreatedAt = time.Now()
		_, err := store.Insert(ctx, repository.TableMeals, repository.MealRecord(m))
		require.NoError(t, err)
	}
}

func TestCatalogRoundTrip(t *testing.T) {
	database := openTestDB(t)
	store := repository.NewPostgresStore(database)
	seed(t, store)

	catalog := repository.NewCatalogRepository(store)
	chefs, err := catalog.ListChefs(context.Background())
	require.NoError(t, err)
	require.Len(t, chefs, 1)
	require.NotNil(t, chefs[0].Location)
	assert.Len(t, chefs[0].AvailabilityWindows, 1)
	assert.Nil(t, chefs[0].Rating)

	meal, err := catalog.GetMeal(context.Background(), "soup")
	require.NoError(t, err)
	require.NotNil(t, meal)
	assert.True(t, meal.Price.Equal(decimal.RequireFromString("12.50")))
	require.NotNil(t, meal.ReadyUntil)
}

func TestAtomicPlacementWritesOutbox(t *testing.T) {
	database := openTestDB(t)
	store := repository.NewPostgresStore(database)
	seed(t, store)
	ctx := context.Background()

	soup, err := repository.NewCatalogRepository(store).GetMeal(ctx, "soup")
	require.NoError(t, err)
	c := cart.New()
	require.NoError(t, c.AddLine(*soup, 2))

	orch := orders.New(repository.NewOrderRepository(store))
	require.True(t, orch.Atomic())
	placed, err := orch.PlaceOrder(ctx, c, "", "cust-1", models.DeliveryInstant)
	require.NoError(t, err)
	assert.True(t, placed.Order.TotalAmount.Equal(decimal.RequireFromString("25.00")))

	tasks, err := repository.NewPostgresTaskRepository(database).GetPendingTasks(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, placed.Order.ID, tasks[0].OrderID)
	assert.Equal(t, "chef-1", tasks[0].Key)
	assert.Contains(t, string(tasks[0].Payload), `"order_placed"`)

	require.NoError(t, orch.UpdateStatus(ctx, placed.Order.ID, models.OrderStatusPreparing, models.RoleChef))
	err = orch.UpdateStatus(ctx, placed.Order.ID, models.OrderStatusCancelled, models.RoleCustomer)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
}

func TestAuditDBProcessor(t *testing.T) {
	database := openTestDB(t)
	proc := audit.NewDBProcessor(database)
	require.NoError(t, proc.Process([]audit.AuditLog{
		{Timestamp: time.Now().UTC(), OrderID: "o-1", OldState: "pending", NewState: "preparing", Actor: "chef"},
	}))

	var n int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM audit_logs WHERE order_id = $1`, "o-1").Scan(&n))
	assert.Equal(t, 1, n)
}
