package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cart-service/database"
	apperrors "cart-service/errors"
	"cart-service/models"
	"cart-service/services"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Mock Store ---

type mockStore struct {
	carts    map[string][]models.CartItem
	coupons  map[string]string
	idem     map[string]int64
	locks    map[string]bool
	deletes  []string
	failWith error
	clearErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		carts:   map[string][]models.CartItem{},
		coupons: map[string]string{},
		idem:    map[string]int64{},
		locks:   map[string]bool{},
	}
}

func (m *mockStore) GetCart(_ context.Context, userID string) ([]models.CartItem, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	items, ok := m.carts[userID]
	if !ok {
		return []models.CartItem{}, nil
	}
	return append([]models.CartItem(nil), items...), nil
}

func (m *mockStore) SaveCart(_ context.Context, userID string, items []models.CartItem) error {
	m.carts[userID] = append([]models.CartItem(nil), items...)
	return nil
}

func (m *mockStore) DeleteCart(_ context.Context, userID string) error {
	m.deletes = append(m.deletes, "cart:"+userID)
	delete(m.carts, userID)
	return nil
}

func (m *mockStore) GetCoupon(_ context.Context, userID string) (string, error) {
	return m.coupons[userID], nil
}

func (m *mockStore) SaveCoupon(_ context.Context, userID, code string) error {
	m.coupons[userID] = code
	return nil
}

func (m *mockStore) DeleteCoupon(_ context.Context, userID string) error {
	delete(m.coupons, userID)
	return nil
}

func (m *mockStore) ClearCheckout(_ context.Context, userID string) error {
	if m.clearErr != nil {
		return m.clearErr
	}
	delete(m.carts, userID)
	delete(m.coupons, userID)
	return nil
}

func (m *mockStore) GetIdempotency(_ context.Context, userID, key string) (int64, error) {
	return m.idem[userID+":"+key], nil
}

func (m *mockStore) SetIdempotency(_ context.Context, userID, key string, orderID int64, _ time.Duration) error {
	m.idem[userID+":"+key] = orderID
	return nil
}

func (m *mockStore) AcquireLock(_ context.Context, userID string, _ time.Duration) (func(context.Context) error, error) {
	if m.locks[userID] {
		return nil, database.ErrLockHeld
	}
	m.locks[userID] = true
	return func(context.Context) error {
		delete(m.locks, userID)
		return nil
	}, nil
}

// --- Mock gateways ---

type mockCatalog struct {
	products map[int64]*models.Product
	err      error
}

func (m *mockCatalog) GetProduct(_ context.Context, productID int64) (*models.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.products[productID]
	if !ok {
		return nil, apperrors.ProductNotFound(productID)
	}
	cp := *p
	return &cp, nil
}

type mockOrders struct {
	mu       sync.Mutex
	requests []models.OrderCreateRequest
	nextID   int64
	err      error
}

func (m *mockOrders) CreateOrder(_ context.Context, req models.OrderCreateRequest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return 0, m.err
	}
	m.nextID++
	return m.nextID, nil
}

type mockPublisher struct {
	events []models.CheckoutEvent
	err    error
}

func (m *mockPublisher) PublishCheckout(_ context.Context, e models.CheckoutEvent) error {
	m.events = append(m.events, e)
	return m.err
}

// --- Helpers ---

func product(id int64, name, price, status string) *models.Product {
	return &models.Product{ID: id, Name: name, Price: decimal.RequireFromString(price), Status: status}
}

func newCatalog() *mockCatalog {
	return &mockCatalog{products: map[int64]*models.Product{
		1: product(1, "Monitor", "1200", "ACTIVE"),
		2: product(2, "Cable", "400", "active"),
		3: product(3, "Chair", "2000", "Active"),
		4: product(4, "Retired Lamp", "80", "INACTIVE"),
	}}
}

type fixture struct {
	store     *mockStore
	catalog   *mockCatalog
	orders    *mockOrders
	publisher *mockPublisher
	svc       services.CartService
}

func newFixture(opts services.Options) *fixture {
	f := &fixture{
		store:     newMockStore(),
		catalog:   newCatalog(),
		orders:    &mockOrders{nextID: 1000},
		publisher: &mockPublisher{},
	}
	logger, _ := zap.NewDevelopment()
	f.svc = services.NewCartService(f.store, f.catalog, f.orders, f.publisher, nil, logger, opts)
	return f
}

func assertKind(t *testing.T, err error, kind apperrors.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperrors.KindOf(err), "error: %v", err)
}

var ctx = context.Background()

// --- AddItem ---

func TestAddItem_CreatesCart(t *testing.T) {
	f := newFixture(services.Options{})

	require.NoError(t, f.svc.AddItem(ctx, "u1", 3, 2))

	items, err := f.svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(3), items[0].ProductID)
	assert.Equal(t, "Chair", items[0].Name)
	assert.Equal(t, 2, items[0].Quantity)
}

func TestAddItem_ReplacesExistingEntry(t *testing.T) {
	f := newFixture(services.Options{})
	require.NoError(t, f.svc.AddItem(ctx, "u1", 1, 1))
	require.NoError(t, f.svc.AddItem(ctx, "u1", 2, 3))

	// Catalog price changes between adds.
	f.catalog.products[1] = product(1, "Monitor v2", "1100", "ACTIVE")
	require.NoError(t, f.svc.AddItem(ctx, "u1", 1, 5))

	items, err := f.svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)

	var monitor *models.CartItem
	for i := range items {
		if items[i].ProductID == 1 {
			require.Nil(t, monitor, "duplicate product entry")
			monitor = &items[i]
		}
	}
	require.NotNil(t, monitor)
	assert.Equal(t, 5, monitor.Quantity)
	assert.Equal(t, "Monitor v2", monitor.Name)
	assert.True(t, monitor.Price.Equal(decimal.NewFromInt(1100)))
}

func TestAddItem_Validation(t *testing.T) {
	f := newFixture(services.Options{})

	assertKind(t, f.svc.AddItem(ctx, "u1", 1, 0), apperrors.KindValidation)
	assertKind(t, f.svc.AddItem(ctx, "u1", 1, -2), apperrors.KindValidation)
	assertKind(t, f.svc.AddItem(ctx, "u1", 4, 1), apperrors.KindValidation)
	assertKind(t, f.svc.AddItem(ctx, "", 1, 1), apperrors.KindValidation)

	_, exists := f.store.carts["u1"]
	assert.False(t, exists)
}

func TestAddItem_ProductNotFound(t *testing.T) {
	f := newFixture(services.Options{})
	assertKind(t, f.svc.AddItem(ctx, "u1", 99, 1), apperrors.KindProductNotFound)
}

func TestAddItem_CatalogUnavailable(t *testing.T) {
	f := newFixture(services.Options{})
	f.catalog.err = errors.New("connection reset")

	assertKind(t, f.svc.AddItem(ctx, "u1", 1, 1), apperrors.KindRemoteService)
}

func TestAddItem_StoreUnavailable(t *testing.T) {
	f := newFixture(services.Options{})
	f.store.failWith = errors.New("redis: connection refused")

	assertKind(t, f.svc.AddItem(ctx, "u1", 1, 1), apperrors.KindRemoteService)
}

// --- RemoveItem ---

func TestRemoveItem_EmptyCart(t *testing.T) {
	f := newFixture(services.Options{})

	err := f.svc.RemoveItem(ctx, "u1", 1)
	assertKind(t, err, apperrors.KindValidation)
	assert.Equal(t, "Cart is empty", apperrors.From(err).Message)
}

func TestRemoveItem_NotInCart(t *testing.T) {
	f := newFixture(services.Options{})
	require.NoError(t, f.svc.AddItem(ctx, "u1", 1, 1))

	err := f.svc.RemoveItem(ctx, "u1", 2)
	assertKind(t, err, apperrors.KindValidation)
	assert.Equal(t, "Item not found in cart", apperrors.From(err).Message)
}

func TestRemoveItem_KeepsOthers(t *testing.T) {
	f := newFixture(services.Options{})
	require.NoError(t, f.svc.AddItem(ctx, "u1", 1, 1))
	require.NoError(t, f.svc.AddItem(ctx, "u1", 2, 1))

	require.NoError(t, f.svc.RemoveItem(ctx, "u1", 1))

	items, _ := f.svc.GetCart(ctx, "u1")
	require.Len(t, items, 1)
	assert.Equal(t, int64(2), items[0].ProductID)
	assert.Empty(t, f.store.deletes)
}

func TestRemoveItem_LastItemDeletesKey(t *testing.T) {
	f := newFixture(services.Options{})
	require.NoError(t, f.svc.AddItem(ctx, "u1", 1, 1))

	require.NoError(t, f.svc.RemoveItem(ctx, "u1", 1))

	assert.Equal(t, []string{"cart:u1"}, f.store.deletes)
	_, exists := f.store.carts["u1"]
	assert.False(t, exists)
}

// --- Coupons ---

func TestApplyCoupon_StoresUppercased(t *testing.T) {
	f := newFixture(services.Options{})

	for _, code := range []string{"save10", "Welcome50", "NEWUSER", "flat100"} {
		require.NoError(t, f.svc.ApplyCoupon(ctx, "u1", code))
	}
	assert.Equal(t, "FLAT100", f.store.coupons["u1"])
}

func TestApplyCoupon_Rejects(t *testing.T) {
	f := newFixture(services.Options{})

	err := f.svc.ApplyCoupon(ctx, "u1", "   ")
	assertKind(t, err, apperrors.KindValidation)
	assert.Equal(t, "Invalid coupon", apperrors.From(err).Message)

	err = f.svc.ApplyCoupon(ctx, "u1", "SAVE20")
	assertKind(t, err, apperrors.KindValidation)
	assert.Equal(t, "Invalid or expired coupon", apperrors.From(err).Message)

	assert.Empty(t, f.store.coupons)
}

func TestRemoveCoupon_Idempotent(t *testing.T) {
	f := newFixture(services.Options{})
	require.NoError(t, f.svc.RemoveCoupon(ctx, "u1"))

	require.NoError(t, f.svc.ApplyCoupon(ctx, "u1", "SAVE10"))
	require.NoError(t, f.svc.RemoveCoupon(ctx, "u1"))
	assert.Empty(t, f.store.coupons)
}

func TestClearCart_KeepsCoupon(t *testing.T) {
	f := newFixture(services.Options{})
	require.NoError(t, f.svc.AddItem(ctx, "u1", 1, 1))
	require.NoError(t, f.svc.ApplyCoupon(ctx, "u1", "SAVE10"))

	require.NoError(t, f.svc.ClearCart(ctx, "u1"))

	items, _ := f.svc.GetCart(ctx, "u1")
	assert.Empty(t, items)
	assert.Equal(t, "SAVE10", f.store.coupons["u1"])
}

// --- Pricing ---

func TestGetCartWithTotal_StackedDiscounts(t *testing.T) {
	f := newFixture(services.Options{})
	require.NoError(t, f.svc.AddItem(ctx, "u1", 1, 1))
	require.NoError(t, f.svc.AddItem(ctx, "u1", 2, 12))
	require.NoError(t, f.svc.ApplyCoupon(ctx, "u1", "save10"))

	priced, err := f.svc.GetCartWithTotal(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, "6000", priced.SubTotal.String())
	assert.Equal(t, "888", priced.TotalDiscount.String())
	assert.Equal(t, "5112", priced.GrandTotal.String())
	assert.Equal(t, "SAVE10", priced.AppliedCoupon)
}

func TestGetCartWithTotal_NeverWrittenUser(t *testing.T) {
	f := newFixture(services.Options{})

	priced, err := f.svc.GetCartWithTotal(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, priced.Items)
	assert.True(t, priced.GrandTotal.IsZero())
	assert.Empty(t, f.store.carts)
}

func TestGetCart_CorruptPayloadIsSerializationError(t *testing.T) {
	f := newFixture(services.Options{})
	f.store.failWith = apperrors.Serialization("JSON_PARSE_ERROR", errors.New("unexpected end of JSON input"))

	_, err := f.svc.GetCart(ctx, "u1")
	assertKind(t, err, apperrors.KindSerialization)

	_, err = f.svc.GetCartWithTotal(ctx, "u1")
	assertKind(t, err, apperrors.KindSerialization)
}

// --- Checkout ---

func TestCheckout_EmptyCartNeverCallsOrders(t *testing.T) {
	f := newFixture(services.Options{})

	_, err := f.svc.Checkout(ctx, "u1", "")
	assertKind(t, err, apperrors.KindValidation)
	assert.Empty(t, f.orders.requests)
}

func TestCheckout_Success(t *testing.T) {
	f := newFixture(services.Options{})
	require.NoError(t, f.svc.AddItem(ctx, "u1", 3, 1))
	require.NoError(t, f.svc.AddItem(ctx, "u1", 2, 2))
	require.NoError(t, f.svc.ApplyCoupon(ctx, "u1", "WELCOME50"))

	orderID, err := f.svc.Checkout(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), orderID)

	require.Len(t, f.orders.requests, 1)
	req := f.orders.requests[0]
	assert.Equal(t, "u1", req.UserID)
	// 2000 + 800 = 2800; item discount 200; coupon 50.
	assert.Equal(t, "2550", req.Total.String())
	require.Len(t, req.Items, 2)
	for _, it := range req.Items {
		assert.True(t, it.Subtotal.Equal(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))))
	}

	items, err := f.svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, items)
	priced, err := f.svc.GetCartWithTotal(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, priced.AppliedCoupon)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, models.EventCheckoutCompleted, f.publisher.events[0].Event)
	assert.Equal(t, int64(1001), f.publisher.events[0].OrderID)
	assert.Equal(t, "WELCOME50", f.publisher.events[0].Coupon)
}

func TestCheckout_OrderServiceFailureKeepsCart(t *testing.T) {
	f := newFixture(services.Options{})
	require.NoError(t, f.svc.AddItem(ctx, "u1", 1, 1))
	require.NoError(t, f.svc.ApplyCoupon(ctx, "u1", "SAVE10"))

	f.orders.err = errors.New("dial tcp: i/o timeout")
	_, err := f.svc.Checkout(ctx, "u1", "")
	assertKind(t, err, apperrors.KindRemoteService)

	f.orders.err = apperrors.RemoteService("Order Service returned null", nil)
	_, err = f.svc.Checkout(ctx, "u1", "")
	assertKind(t, err, apperrors.KindRemoteService)

	f.orders.err = apperrors.Validation("total mismatch")
	_, err = f.svc.Checkout(ctx, "u1", "")
	assertKind(t, err, apperrors.KindValidation)
	assert.Equal(t, "total mismatch", apperrors.From(err).Message)

	assert.Len(t, f.store.carts["u1"], 1)
	assert.Equal(t, "SAVE10", f.store.coupons["u1"])
	assert.Empty(t, f.publisher.events)
}

func TestCheckout_CleanupFailureStillReturnsOrder(t *testing.T) {
	f := newFixture(services.Options{})
	require.NoError(t, f.svc.AddItem(ctx, "u1", 1, 1))
	f.store.clearErr = errors.New("redis: connection pool timeout")

	orderID, err := f.svc.Checkout(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), orderID)
	assert.Len(t, f.store.carts["u1"], 1)
}

func TestCheckout_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(services.Options{})
	require.NoError(t, f.svc.AddItem(ctx, "u1", 1, 1))
	f.publisher.err = errors.New("sns throttled")

	_, err := f.svc.Checkout(ctx, "u1", "")
	require.NoError(t, err)
}

func TestCheckout_IdempotencyKeyReplaysOrder(t *testing.T) {
	f := newFixture(services.Options{})
	require.NoError(t, f.svc.AddItem(ctx, "u1", 1, 1))

	first, err := f.svc.Checkout(ctx, "u1", "idem-1")
	require.NoError(t, err)

	second, err := f.svc.Checkout(ctx, "u1", "idem-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, f.orders.requests, 1)

	_, err = f.svc.Checkout(ctx, "u1", "idem-2")
	assertKind(t, err, apperrors.KindValidation)
}

// --- Locking ---

func TestLocking_BusyCartIsRemoteError(t *testing.T) {
	f := newFixture(services.Options{LockEnabled: true})
	f.store.locks["u1"] = true

	assertKind(t, f.svc.AddItem(ctx, "u1", 1, 1), apperrors.KindRemoteService)
	assert.Equal(t, "cart is busy", apperrors.From(f.svc.RemoveItem(ctx, "u1", 1)).Message)

	require.NoError(t, f.svc.AddItem(ctx, "u2", 1, 1))
	assert.False(t, f.store.locks["u2"], "lock must be released")
}

// --- Against Redis ---

func TestCartService_WithRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := database.NewCartRepository(client, 2*time.Hour)
	orders := &mockOrders{nextID: 41}
	svc := services.NewCartService(repo, newCatalog(), orders, nil, nil, zap.NewNop(), services.Options{LockEnabled: true})

	require.NoError(t, svc.AddItem(ctx, "7", 1, 1))
	require.NoError(t, svc.ApplyCoupon(ctx, "7", "newuser"))
	assert.True(t, mr.Exists("cart:user:7"))
	assert.Equal(t, 2*time.Hour, mr.TTL("cart:coupon:7"))

	require.NoError(t, svc.RemoveItem(ctx, "7", 1))
	assert.False(t, mr.Exists("cart:user:7"))
	items, err := svc.GetCart(ctx, "7")
	require.NoError(t, err)
	assert.Empty(t, items)

	require.NoError(t, svc.AddItem(ctx, "7", 3, 1))
	orderID, err := svc.Checkout(ctx, "7", "")
	require.NoError(t, err)
	assert.Equal(t, int64(42), orderID)
	assert.False(t, mr.Exists("cart:user:7"))
	assert.False(t, mr.Exists("cart:coupon:7"))
	assert.False(t, mr.Exists("cart:lock:7"))

	require.NoError(t, mr.Set("cart:user:8", "garbage"))
	_, err = svc.GetCartWithTotal(ctx, "8")
	assertKind(t, err, apperrors.KindSerialization)
}

func TestCheckout_IdempotencyKeyIsScopedPerUser(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := database.NewCartRepository(client, 2*time.Hour)
	orders := &mockOrders{nextID: 99}
	svc := services.NewCartService(repo, newCatalog(), orders, nil, nil, zap.NewNop(), services.Options{})

	require.NoError(t, svc.AddItem(ctx, "alice", 1, 1))
	require.NoError(t, svc.AddItem(ctx, "bob", 3, 1))
	require.NoError(t, svc.ApplyCoupon(ctx, "bob", "FLAT100"))

	aliceOrder, err := svc.Checkout(ctx, "alice", "retry-1")
	require.NoError(t, err)
	bobOrder, err := svc.Checkout(ctx, "bob", "retry-1")
	require.NoError(t, err)

	assert.Len(t, orders.requests, 2)
	assert.NotEqual(t, aliceOrder, bobOrder)
	assert.Equal(t, "bob", orders.requests[1].UserID)
	assert.False(t, mr.Exists("cart:user:bob"))
	assert.False(t, mr.Exists("cart:coupon:bob"))

	replayed, err := svc.Checkout(ctx, "bob", "retry-1")
	require.NoError(t, err)
	assert.Equal(t, bobOrder, replayed)
	assert.Len(t, orders.requests, 2)
}
