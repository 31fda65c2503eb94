package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RateLimit limits requests per client IP, or per tenant once JWTAuth has
// run. rate uses the limiter format, e.g. "300-M".
func RateLimit(rate string) gin.HandlerFunc {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		log.Fatal().Err(err).Str("rate", rate).Msg("invalid rate limit")
	}

	store := memory.NewStore()
	instance := limiter.New(store, parsed)

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if tenantID := c.GetInt64(TenantIDKey); tenantID != 0 {
			key = "tenant:" + strconv.FormatInt(tenantID, 10)
		}

		ctx, err := instance.Get(c.Request.Context(), key)
		if err != nil {
			log.Error().Err(err).Msg("rate limiter store error")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(ctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(ctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(ctx.Reset, 10))

		if ctx.Reached {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "Too many requests",
			})
			return
		}
		c.Next()
	}
}
