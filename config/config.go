package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	aws_pkg "cart-service/aws"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Environment string
	RedisURL    string
	CartTTL     time.Duration

	ProductServiceURL string
	OrderServiceURL   string
	HTTPClientTimeout time.Duration
	RequestTimeout    time.Duration

	LockEnabled    bool
	LockTTL        time.Duration
	IdempotencyTTL time.Duration

	CheckoutSNSTopicARN string
	KafkaBrokers        []string
	KafkaTopic          string

	RateLimitPerMinute int
	AllowedOrigins     []string
	UseSecrets         bool
}

func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := Config{
		Port:                getEnv("PORT", "8086"),
		Environment:         getEnv("ENVIRONMENT", "development"),
		RedisURL:            getEnv("REDIS_URL", "redis://redis:6379"),
		CartTTL:             getDuration("CART_TTL", 2*time.Hour),
		ProductServiceURL:   strings.TrimSuffix(getEnv("PRODUCT_SERVICE_URL", "http://product-service:8082/products"), "/"),
		OrderServiceURL:     getEnv("ORDER_SERVICE_URL", "http://order-service:8083/orders"),
		HTTPClientTimeout:   getDuration("HTTP_CLIENT_TIMEOUT", 5*time.Second),
		RequestTimeout:      getDuration("REQUEST_TIMEOUT", 30*time.Second),
		LockEnabled:         getBool("CART_LOCK_ENABLED", false),
		LockTTL:             getDuration("CART_LOCK_TTL", 15*time.Second),
		IdempotencyTTL:      getDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		CheckoutSNSTopicARN: os.Getenv("CHECKOUT_SNS_TOPIC_ARN"),
		KafkaBrokers:        splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "checkout.completed"),
		RateLimitPerMinute:  getInt("RATE_LIMIT_PER_MINUTE", 100),
		AllowedOrigins:      splitList(os.Getenv("ALLOWED_ORIGINS")),
		UseSecrets:          getBool("AWS_USE_SECRETS", false),
	}

	// Override the Redis URL from Secrets Manager when running on AWS
	if cfg.UseSecrets {
		if awsCfg, err := aws_pkg.LoadAWSConfig(context.Background()); err == nil {
			sm := aws_pkg.NewSecretsClient(awsCfg)
			if raw, err := sm.GetSecret(context.Background(), "cart/REDIS"); err == nil && raw != "" {
				applySecret(&cfg, raw)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports configuration that would leave the service unable to serve.
func (c Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.ProductServiceURL == "" {
		return fmt.Errorf("PRODUCT_SERVICE_URL is required")
	}
	if c.OrderServiceURL == "" {
		return fmt.Errorf("ORDER_SERVICE_URL is required")
	}
	if c.CartTTL <= 0 {
		return fmt.Errorf("CART_TTL must be positive")
	}
	if c.LockEnabled && c.LockTTL <= c.HTTPClientTimeout {
		// The lock must outlive a checkout's order call or a second checkout can slip in.
		return fmt.Errorf("CART_LOCK_TTL (%s) must exceed HTTP_CLIENT_TIMEOUT (%s) when locking is enabled", c.LockTTL, c.HTTPClientTimeout)
	}
	return nil
}

func applySecret(cfg *Config, raw string) {
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return
	}
	if v, ok := m["REDIS_URL"]; ok && v != "" {
		cfg.RedisURL = v
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Printf("invalid duration for %s=%q, using %s", key, val, defaultVal)
		return defaultVal
	}
	return d
}

func getBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
