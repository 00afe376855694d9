package services

import (
	"context"
	"errors"
	"strings"
	"time"

	aws_pkg "cart-service/aws"
	"cart-service/database"
	apperrors "cart-service/errors"
	"cart-service/events"
	"cart-service/logger"
	"cart-service/models"
	"cart-service/pricing"

	"go.uber.org/zap"
)

// Store is the cache the cart lives in. Every write resets the key's TTL.
type Store interface {
	GetCart(ctx context.Context, userID string) ([]models.CartItem, error)
	SaveCart(ctx context.Context, userID string, items []models.CartItem) error
	DeleteCart(ctx context.Context, userID string) error
	GetCoupon(ctx context.Context, userID string) (string, error)
	SaveCoupon(ctx context.Context, userID, code string) error
	DeleteCoupon(ctx context.Context, userID string) error
	ClearCheckout(ctx context.Context, userID string) error
	GetIdempotency(ctx context.Context, userID, key string) (int64, error)
	SetIdempotency(ctx context.Context, userID, key string, orderID int64, ttl time.Duration) error
	AcquireLock(ctx context.Context, userID string, ttl time.Duration) (func(context.Context) error, error)
}

// ProductCatalog resolves product details.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID int64) (*models.Product, error)
}

// OrderCreator turns a priced cart into an order.
type OrderCreator interface {
	CreateOrder(ctx context.Context, order models.OrderCreateRequest) (int64, error)
}

// MetricsRecorder is the subset of the CloudWatch client the service reports to.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordValue(ctx context.Context, metricName string, value float64, dimensions map[string]string) error
}

// CartService defines the cart operations. Every error it returns is an
// *errors.Error whose Kind tells the caller how to react.
type CartService interface {
	AddItem(ctx context.Context, userID string, productID int64, quantity int) error
	RemoveItem(ctx context.Context, userID string, productID int64) error
	GetCart(ctx context.Context, userID string) ([]models.CartItem, error)
	ClearCart(ctx context.Context, userID string) error
	ApplyCoupon(ctx context.Context, userID, code string) error
	RemoveCoupon(ctx context.Context, userID string) error
	GetCartWithTotal(ctx context.Context, userID string) (*models.PricedCart, error)
	Checkout(ctx context.Context, userID, idempotencyKey string) (int64, error)
}

// Options tunes optional behaviour of the cart service.
type Options struct {
	// LockEnabled serializes mutations per user with an advisory lock in the store.
	// Without it concurrent mutations for one user are last-writer-wins.
	LockEnabled    bool
	LockTTL        time.Duration
	IdempotencyTTL time.Duration
}

type cartServiceImpl struct {
	store     Store
	products  ProductCatalog
	orders    OrderCreator
	publisher events.Publisher
	metrics   MetricsRecorder
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
}

// NewCartService creates a new CartService. publisher and metrics may be nil.
func NewCartService(
	store Store,
	products ProductCatalog,
	orders OrderCreator,
	publisher events.Publisher,
	metrics MetricsRecorder,
	logger *zap.Logger,
	opts Options,
) CartService {
	if publisher == nil {
		publisher = events.Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 15 * time.Second
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &cartServiceImpl{
		store:     store,
		products:  products,
		orders:    orders,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// AddItem puts productID in the cart with the given quantity, replacing any existing
// entry. Name and price are refreshed from the catalog on every call.
func (s *cartServiceImpl) AddItem(ctx context.Context, userID string, productID int64, quantity int) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if quantity <= 0 {
		return apperrors.Validation("Quantity must be > 0")
	}

	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return asRemote(err, "Product service unavailable")
	}
	if !strings.EqualFold(product.Status, "ACTIVE") {
		return apperrors.Validation("Product is not active")
	}

	return s.withLock(ctx, userID, func() error {
		items, err := s.store.GetCart(ctx, userID)
		if err != nil {
			return storeErr(err)
		}

		items = removeProduct(items, productID)
		items = append(items, models.CartItem{
			ProductID: productID,
			Name:      product.Name,
			Price:     product.Price,
			Quantity:  quantity,
		})

		if err := s.store.SaveCart(ctx, userID, items); err != nil {
			return storeErr(err)
		}

		logger.FromContext(ctx, s.logger).Info("Cart item saved",
			zap.String("user_id", userID),
			zap.Int64("product_id", productID),
			zap.Int("quantity", quantity),
			zap.Int("items", len(items)),
		)
		s.record(aws_pkg.MetricCartItemsAdded)
		return nil
	})
}

// RemoveItem drops productID from the cart. Removing the last item deletes the key.
func (s *cartServiceImpl) RemoveItem(ctx context.Context, userID string, productID int64) error {
	if err := requireUser(userID); err != nil {
		return err
	}

	return s.withLock(ctx, userID, func() error {
		items, err := s.store.GetCart(ctx, userID)
		if err != nil {
			return storeErr(err)
		}
		if len(items) == 0 {
			return apperrors.Validation("Cart is empty")
		}

		remaining := removeProduct(items, productID)
		if len(remaining) == len(items) {
			return apperrors.Validation("Item not found in cart")
		}

		if len(remaining) == 0 {
			err = s.store.DeleteCart(ctx, userID)
		} else {
			err = s.store.SaveCart(ctx, userID, remaining)
		}
		if err != nil {
			return storeErr(err)
		}

		logger.FromContext(ctx, s.logger).Info("Cart item removed",
			zap.String("user_id", userID),
			zap.Int64("product_id", productID),
			zap.Int("items", len(remaining)),
		)
		return nil
	})
}

func (s *cartServiceImpl) GetCart(ctx context.Context, userID string) ([]models.CartItem, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	items, err := s.store.GetCart(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return items, nil
}

// ClearCart empties the cart but keeps any applied coupon.
func (s *cartServiceImpl) ClearCart(ctx context.Context, userID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if err := s.store.DeleteCart(ctx, userID); err != nil {
		return storeErr(err)
	}
	logger.FromContext(ctx, s.logger).Info("Cart cleared", zap.String("user_id", userID))
	return nil
}

// ApplyCoupon stores code, uppercased, if it is one of the recognized coupons.
// The cart may be empty.
func (s *cartServiceImpl) ApplyCoupon(ctx context.Context, userID, code string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if strings.TrimSpace(code) == "" {
		return apperrors.Validation("Invalid coupon")
	}
	if !pricing.IsRecognizedCoupon(code) {
		return apperrors.Validation("Invalid or expired coupon")
	}

	code = strings.ToUpper(code)
	if err := s.store.SaveCoupon(ctx, userID, code); err != nil {
		return storeErr(err)
	}

	logger.FromContext(ctx, s.logger).Info("Coupon applied", zap.String("user_id", userID), zap.String("code", code))
	s.record(aws_pkg.MetricCartCouponsApplied, "Coupon", code)
	return nil
}

func (s *cartServiceImpl) RemoveCoupon(ctx context.Context, userID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if err := s.store.DeleteCoupon(ctx, userID); err != nil {
		return storeErr(err)
	}
	return nil
}

// GetCartWithTotal prices the current cart and coupon without changing either.
func (s *cartServiceImpl) GetCartWithTotal(ctx context.Context, userID string) (*models.PricedCart, error) {
	items, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	coupon, err := s.store.GetCoupon(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}

	priced := pricing.Calculate(items, coupon)
	return &priced, nil
}

// Checkout places an order for the priced cart and then clears the cart and coupon.
//
// Order creation and cache cleanup are not one transaction: if cleanup fails after the
// order exists, the order ID is still returned and the stale cart stays until it expires.
// A non-empty idempotencyKey makes the same user's retries return the first order
// instead of placing another one.
func (s *cartServiceImpl) Checkout(ctx context.Context, userID, idempotencyKey string) (int64, error) {
	if err := requireUser(userID); err != nil {
		return 0, err
	}
	log := logger.FromContext(ctx, s.logger).With(zap.String("user_id", userID))

	if idempotencyKey != "" {
		if orderID, err := s.store.GetIdempotency(ctx, userID, idempotencyKey); err != nil {
			return 0, storeErr(err)
		} else if orderID != 0 {
			log.Info("Checkout replayed", zap.String("idempotency_key", idempotencyKey), zap.Int64("order_id", orderID))
			return orderID, nil
		}
	}

	var orderID int64
	err := s.withLock(ctx, userID, func() error {
		priced, err := s.GetCartWithTotal(ctx, userID)
		if err != nil {
			return err
		}
		if len(priced.Items) == 0 {
			return apperrors.Validation("Cart is empty")
		}

		orderID, err = s.orders.CreateOrder(ctx, models.NewOrderCreateRequest(userID, priced))
		if err != nil {
			s.record(aws_pkg.MetricCartCheckoutsFailed)
			log.Warn("Order creation failed", zap.Error(err))
			return asRemote(err, "Failed to call Order Service")
		}

		if err := s.store.ClearCheckout(ctx, userID); err != nil {
			log.Error("Cart cleanup after checkout failed; cart will linger until TTL",
				zap.Int64("order_id", orderID), zap.Error(err))
		}
		if idempotencyKey != "" {
			if err := s.store.SetIdempotency(ctx, userID, idempotencyKey, orderID, s.opts.IdempotencyTTL); err != nil {
				log.Warn("Failed to record checkout idempotency key", zap.Error(err))
			}
		}

		s.publishCheckout(ctx, log, userID, orderID, priced)
		s.record(aws_pkg.MetricCartCheckouts)
		s.recordValue(aws_pkg.MetricCartCheckoutValue, priced.GrandTotal.InexactFloat64())

		log.Info("Checkout completed",
			zap.Int64("order_id", orderID),
			zap.String("grand_total", priced.GrandTotal.String()),
			zap.String("coupon", priced.AppliedCoupon),
		)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return orderID, nil
}

func (s *cartServiceImpl) publishCheckout(ctx context.Context, log *zap.Logger, userID string, orderID int64, priced *models.PricedCart) {
	event := models.CheckoutEvent{
		Event:     models.EventCheckoutCompleted,
		UserID:    userID,
		OrderID:   orderID,
		Total:     priced.GrandTotal,
		Coupon:    priced.AppliedCoupon,
		Items:     priced.Items,
		Timestamp: s.now().UTC(),
	}
	if err := s.publisher.PublishCheckout(ctx, event); err != nil {
		log.Error("Failed to publish checkout event", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

// withLock runs fn under the user's advisory lock when locking is enabled.
func (s *cartServiceImpl) withLock(ctx context.Context, userID string, fn func() error) error {
	if !s.opts.LockEnabled {
		return fn()
	}

	release, err := s.store.AcquireLock(ctx, userID, s.opts.LockTTL)
	if errors.Is(err, database.ErrLockHeld) {
		return apperrors.RemoteService("cart is busy", err)
	}
	if err != nil {
		return storeErr(err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			s.logger.Warn("Failed to release cart lock", zap.String("user_id", userID), zap.Error(err))
		}
	}()
	return fn()
}

// record counts a business event in the background so CloudWatch latency never
// reaches the caller. dims are name/value pairs.
func (s *cartServiceImpl) record(metric string, dims ...string) {
	s.emit(metric, func(ctx context.Context, d map[string]string) error {
		return s.metrics.RecordCount(ctx, metric, d)
	}, dims...)
}

func (s *cartServiceImpl) recordValue(metric string, value float64) {
	s.emit(metric, func(ctx context.Context, d map[string]string) error {
		return s.metrics.RecordValue(ctx, metric, value, d)
	})
}

func (s *cartServiceImpl) emit(metric string, send func(context.Context, map[string]string) error, dims ...string) {
	if s.metrics == nil {
		return
	}
	dimensions := map[string]string{"Service": "cart-service"}
	for i := 0; i+1 < len(dims); i += 2 {
		dimensions[dims[i]] = dims[i+1]
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := send(ctx, dimensions); err != nil {
			s.logger.Debug("Metric not recorded", zap.String("metric", metric), zap.Error(err))
		}
	}()
}

func removeProduct(items []models.CartItem, productID int64) []models.CartItem {
	out := make([]models.CartItem, 0, len(items))
	for _, i := range items {
		if i.ProductID != productID {
			out = append(out, i)
		}
	}
	return out
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.Validation("user id is required")
	}
	return nil
}

// storeErr keeps taxonomy errors (corrupt payloads) and reports the rest as an
// unavailable cache.
func storeErr(err error) error {
	return asRemote(err, "Cart store unavailable")
}

func asRemote(err error, message string) error {
	if apperrors.KindOf(err) != apperrors.KindInternal {
		return err
	}
	return apperrors.RemoteService(message, err)
}
