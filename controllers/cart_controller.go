package controllers

import (
	"net/http"
	"strconv"

	apperrors "cart-service/errors"
	"cart-service/middleware"
	"cart-service/models"
	"cart-service/services"

	"github.com/gin-gonic/gin"
)

// IdempotencyKeyHeader lets clients retry checkout without placing a second order.
const IdempotencyKeyHeader = "Idempotency-Key"

// CartController handles HTTP requests for the caller's cart. Failures are attached
// with c.Error and rendered by errors.ErrorMiddleware.
type CartController struct {
	cartService services.CartService
}

func NewCartController(cartService services.CartService) *CartController {
	return &CartController{cartService: cartService}
}

// GetCart handles GET /cart.
func (cc *CartController) GetCart(c *gin.Context) {
	userID, ok := userFrom(c)
	if !ok {
		return
	}
	items, err := cc.cartService.GetCart(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// AddItem handles POST /cart/items.
func (cc *CartController) AddItem(c *gin.Context) {
	userID, ok := userFrom(c)
	if !ok {
		return
	}
	var req models.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.New(apperrors.KindValidation, "Invalid request body", err))
		return
	}
	quantity := 0
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	if err := cc.cartService.AddItem(c.Request.Context(), userID, req.ProductID, quantity); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Item added to cart"})
}

// RemoveItem handles DELETE /cart/items/:product_id.
func (cc *CartController) RemoveItem(c *gin.Context) {
	userID, ok := userFrom(c)
	if !ok {
		return
	}
	productID, err := strconv.ParseInt(c.Param("product_id"), 10, 64)
	if err != nil {
		_ = c.Error(apperrors.Validation("Invalid product id"))
		return
	}

	if err := cc.cartService.RemoveItem(c.Request.Context(), userID, productID); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearCart handles DELETE /cart.
func (cc *CartController) ClearCart(c *gin.Context) {
	userID, ok := userFrom(c)
	if !ok {
		return
	}
	if err := cc.cartService.ClearCart(c.Request.Context(), userID); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ApplyCoupon handles POST /cart/coupon.
func (cc *CartController) ApplyCoupon(c *gin.Context) {
	userID, ok := userFrom(c)
	if !ok {
		return
	}
	var req models.CouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.New(apperrors.KindValidation, "Invalid request body", err))
		return
	}

	if err := cc.cartService.ApplyCoupon(c.Request.Context(), userID, req.Coupon); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Coupon applied"})
}

// RemoveCoupon handles DELETE /cart/coupon.
func (cc *CartController) RemoveCoupon(c *gin.Context) {
	userID, ok := userFrom(c)
	if !ok {
		return
	}
	if err := cc.cartService.RemoveCoupon(c.Request.Context(), userID); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetCartWithTotal handles GET /cart/total.
func (cc *CartController) GetCartWithTotal(c *gin.Context) {
	userID, ok := userFrom(c)
	if !ok {
		return
	}
	priced, err := cc.cartService.GetCartWithTotal(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, priced)
}

// Checkout handles POST /cart/checkout.
func (cc *CartController) Checkout(c *gin.Context) {
	userID, ok := userFrom(c)
	if !ok {
		return
	}
	orderID, err := cc.cartService.Checkout(c.Request.Context(), userID, c.GetHeader(IdempotencyKeyHeader))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order_id": orderID})
}

func userFrom(c *gin.Context) (string, bool) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return "", false
	}
	return userID, true
}
