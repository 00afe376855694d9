package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	apperrors "cart-service/errors"
	"cart-service/models"
)

// ProductClient looks products up in the catalog service.
type ProductClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewProductClient creates a ProductClient. baseURL is the product collection URL;
// a product is fetched from baseURL/{id}.
func NewProductClient(baseURL string, timeout time.Duration) *ProductClient {
	return &ProductClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetProduct fetches a product. A 404 is reported as ProductNotFound; every other
// failure, timeouts included, as RemoteService.
func (c *ProductClient) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	url := c.baseURL + "/" + strconv.FormatInt(productID, 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.RemoteService("Product service unavailable", err)
	}
	req.Header.Set("Accept", "application/json")
	propagateRequestID(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.RemoteService("Product service unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.ProductNotFound(productID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.RemoteService("Product service unavailable",
			fmt.Errorf("product service returned %d", resp.StatusCode))
	}

	var product models.Product
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return nil, apperrors.RemoteService("Product service returned an invalid body", err)
	}
	return &product, nil
}
