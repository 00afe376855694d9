package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "cart-service/errors"
	"cart-service/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another request holds the user's cart lock.
var ErrLockHeld = errors.New("cart lock held by another request")

// releaseLock deletes the lock only if it still carries our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// CartRepository keeps cart contents and the applied coupon in Redis. Every write
// resets the key's TTL.
type CartRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCartRepository(client *redis.Client, ttl time.Duration) *CartRepository {
	return &CartRepository{
		client: client,
		ttl:    ttl,
	}
}

func cartKey(userID string) string {
	return fmt.Sprintf("cart:user:%s", userID)
}

func couponKey(userID string) string {
	return fmt.Sprintf("cart:coupon:%s", userID)
}

func lockKey(userID string) string {
	return fmt.Sprintf("cart:lock:%s", userID)
}

// idemKey is scoped per user so one user's key can never replay another user's order.
func idemKey(userID, key string) string {
	return fmt.Sprintf("idem:cart:%s:%s", userID, key)
}

// GetCart returns the stored items, or an empty slice when the user has no cart.
// A payload that cannot be decoded is reported as a serialization error.
func (r *CartRepository) GetCart(ctx context.Context, userID string) ([]models.CartItem, error) {
	data, err := r.client.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []models.CartItem{}, nil
	}
	if err != nil {
		return nil, err
	}

	var items []models.CartItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, apperrors.Serialization("JSON_PARSE_ERROR", err)
	}
	if items == nil {
		items = []models.CartItem{}
	}
	return items, nil
}

func (r *CartRepository) SaveCart(ctx context.Context, userID string, items []models.CartItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return apperrors.Serialization("Error saving cart", err)
	}
	return r.client.Set(ctx, cartKey(userID), data, r.ttl).Err()
}

func (r *CartRepository) DeleteCart(ctx context.Context, userID string) error {
	return r.client.Del(ctx, cartKey(userID)).Err()
}

// GetCoupon returns the applied coupon code, or "" when none is applied.
func (r *CartRepository) GetCoupon(ctx context.Context, userID string) (string, error) {
	code, err := r.client.Get(ctx, couponKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return code, err
}

func (r *CartRepository) SaveCoupon(ctx context.Context, userID, code string) error {
	return r.client.Set(ctx, couponKey(userID), code, r.ttl).Err()
}

func (r *CartRepository) DeleteCoupon(ctx context.Context, userID string) error {
	return r.client.Del(ctx, couponKey(userID)).Err()
}

// ClearCheckout removes the cart and the coupon in a single MULTI/EXEC.
func (r *CartRepository) ClearCheckout(ctx context.Context, userID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, cartKey(userID))
		pipe.Del(ctx, couponKey(userID))
		return nil
	})
	return err
}

// Idempotency helpers

// GetIdempotency returns the order ID userID recorded under key, or 0 when none exists.
func (r *CartRepository) GetIdempotency(ctx context.Context, userID, key string) (int64, error) {
	val, err := r.client.Get(ctx, idemKey(userID, key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func (r *CartRepository) SetIdempotency(ctx context.Context, userID, key string, orderID int64, ttl time.Duration) error {
	return r.client.Set(ctx, idemKey(userID, key), orderID, ttl).Err()
}

// AcquireLock takes the advisory lock for userID. The returned func releases it and
// is safe to call after the lock has expired.
func (r *CartRepository) AcquireLock(ctx context.Context, userID string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, lockKey(userID), token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func(ctx context.Context) error {
		return releaseLock.Run(ctx, r.client, []string{lockKey(userID)}, token).Err()
	}, nil
}

// Ping reports whether Redis is reachable.
func (r *CartRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
