package routes

import (
	"context"
	"net/http"
	"time"

	"cart-service/controllers"
	"cart-service/middleware"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether the cart store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func RegisterCartRoutes(r *gin.Engine, controller *controllers.CartController) {
	api := r.Group("/cart")
	api.Use(middleware.UserIdentity())
	{
		api.GET("", controller.GetCart)
		api.DELETE("", controller.ClearCart)
		api.POST("/items", controller.AddItem)
		api.DELETE("/items/:product_id", controller.RemoveItem)
		api.POST("/coupon", controller.ApplyCoupon)
		api.DELETE("/coupon", controller.RemoveCoupon)
		api.GET("/total", controller.GetCartWithTotal)
		api.POST("/checkout", controller.Checkout)
	}
}

func RegisterHealthRoutes(r *gin.Engine, store Pinger) {
	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
}
