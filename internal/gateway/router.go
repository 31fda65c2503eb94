package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"bbsm-garage/internal/database/models"
	"bbsm-garage/internal/gateway/handlers"
	"bbsm-garage/internal/gateway/middleware"
)

type Dependencies struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Users     handlers.UserService
	Stocks    handlers.StockService
	Records   handlers.RecordService
	JWTSecret []byte
	RateLimit string
	Gatherer  prometheus.Gatherer
}

func NewRouter(deps Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(middleware.CORS())
	r.Use(middleware.RequestLogger())
	r.Use(gin.Recovery())

	userHandler := handlers.NewUserHTTPHandler(deps.Users)
	stockHandler := handlers.NewStockHTTPHandler(deps.Stocks)
	cardHandler := handlers.NewRecordHTTPHandler(deps.Records, models.KindCard)
	quoteHandler := handlers.NewRecordHTTPHandler(deps.Records, models.KindQuote)

	// --- Public API Group ---
	public := r.Group("/api/v1")
	public.Use(middleware.RateLimit(deps.RateLimit))
	{
		auth := public.Group("/auth")
		{
			auth.POST("/login", userHandler.Login)
			auth.POST("/register", userHandler.Register)
		}
	}

	// --- Protected API Group ---
	protected := r.Group("/api/v1")
	protected.Use(middleware.JWTAuth(deps.JWTSecret))
	protected.Use(middleware.RateLimit(deps.RateLimit))
	{
		protected.GET("/me", userHandler.Me)

		stocks := protected.Group("/stocks")
		{
			stocks.POST("", stockHandler.CreateStock)
			stocks.GET("", stockHandler.ListStock)
			stocks.GET("/:id", stockHandler.GetStock)
			stocks.GET("/:id/quantity", stockHandler.GetQuantity)
			stocks.PUT("/:id", stockHandler.UpdateStock)
			stocks.DELETE("/:id", stockHandler.DeleteStock)
			stocks.POST("/:id/adjust", stockHandler.AdjustStock)
			stocks.GET("/:id/movements", stockHandler.ListMovements)
		}

		cards := protected.Group("/cards")
		{
			cards.POST("", cardHandler.CreateRecord)
			cards.GET("", cardHandler.ListRecords)
			cards.GET("/:id", cardHandler.GetRecord)
			cards.PUT("/:id", cardHandler.UpdateRecord)
			cards.DELETE("/:id", cardHandler.DeleteRecord)
			cards.PUT("/:id/work-items", cardHandler.ReplaceWorkItems)
		}

		quotes := protected.Group("/quotes")
		{
			quotes.POST("", quoteHandler.CreateRecord)
			quotes.GET("", quoteHandler.ListRecords)
			quotes.GET("/:id", quoteHandler.GetRecord)
			quotes.PUT("/:id", quoteHandler.UpdateRecord)
			quotes.DELETE("/:id", quoteHandler.DeleteRecord)
			quotes.PUT("/:id/work-items", quoteHandler.ReplaceWorkItems)
			quotes.POST("/:id/convert", quoteHandler.ConvertQuote)
		}
	}

	r.GET("/health", healthCheckHandler(deps.DB, deps.Redis))
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	return r
}

// healthCheckHandler reports "degraded" when Redis is configured but not
// answering; the API still works without it.
func healthCheckHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := "healthy"
		httpStatus := http.StatusOK
		unavailable := []string{}

		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			unavailable = append(unavailable, "database")
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}

		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				unavailable = append(unavailable, "redis")
				if status == "healthy" {
					status = "degraded"
				}
			}
		}

		c.JSON(httpStatus, gin.H{
			"status":               status,
			"message":              "Server is running",
			"unavailable_services": unavailable,
			"timestamp":            time.Now(),
		})
	}
}
