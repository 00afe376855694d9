package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "cart-service/errors"
	"cart-service/logger"
	"cart-service/models"
)

// OrderClient creates orders in the order service.
type OrderClient struct {
	url        string
	httpClient *http.Client
}

func NewOrderClient(url string, timeout time.Duration) *OrderClient {
	return &OrderClient{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateOrder posts the order and returns the new order ID from the JSON number body.
// A 400 is passed through as a validation error carrying the remote message.
func (c *OrderClient) CreateOrder(ctx context.Context, order models.OrderCreateRequest) (int64, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return 0, apperrors.Serialization("Failed to encode order", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, apperrors.RemoteService("Failed to call Order Service", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	propagateRequestID(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, apperrors.RemoteService("Failed to call Order Service", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return 0, apperrors.Validation(remoteMessage(resp.Body, "Order rejected by Order Service"))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, apperrors.RemoteService("Failed to call Order Service",
			fmt.Errorf("order service returned %d", resp.StatusCode))
	}

	var orderID *int64
	if err := json.NewDecoder(resp.Body).Decode(&orderID); err != nil && !errors.Is(err, io.EOF) {
		return 0, apperrors.RemoteService("Order Service returned an invalid body", err)
	}
	if orderID == nil {
		return 0, apperrors.RemoteService("Order Service returned null", nil)
	}
	return *orderID, nil
}

// remoteMessage pulls a human readable message out of an error body.
func remoteMessage(r io.Reader, fallback string) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return fallback
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, k := range []string{"message", "error", "detail"} {
			if s, ok := body[k].(string); ok && s != "" {
				return s
			}
		}
		return fallback
	}
	return string(bytes.TrimSpace(raw))
}

func propagateRequestID(ctx context.Context, req *http.Request) {
	if id := logger.RequestIDFrom(ctx); id != "" {
		req.Header.Set(logger.RequestIDHeader, id)
	}
}
