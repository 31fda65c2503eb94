package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	gerrors "bbsm-garage/internal/errors"
	"bbsm-garage/internal/gateway/middleware"
)

const requestTimeout = 10 * time.Second

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

func successResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	}
}

func errorResponse(message string) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
	}
}

func errorWithDataResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
		Data:    data,
	}
}

func successWithMetaResponse(message string, data interface{}, meta interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    meta,
	}
}

// handleError maps a service error to a response through its status code.
// Internal details are logged, never returned.
func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	if shortage, ok := gerrors.ShortageOf(err); ok {
		c.AbortWithStatusJSON(http.StatusConflict, errorWithDataResponse(err.Error(), shortage))
		return
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.InvalidArgument:
			c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(s.Message()))
			return
		case codes.NotFound:
			c.AbortWithStatusJSON(http.StatusNotFound, errorResponse(s.Message()))
			return
		case codes.FailedPrecondition:
			c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(s.Message()))
			return
		case codes.Aborted:
			var ge *gerrors.GarageError
			cause := err
			if stderrors.As(err, &ge) && ge.Cause != nil {
				cause = ge.Cause
			}
			log.Warn().Err(cause).
				Str("request_id", c.GetString(middleware.RequestIDKey)).
				Str("path", c.FullPath()).
				Msg("request aborted by contention")
			c.AbortWithStatusJSON(http.StatusConflict, errorResponse(s.Message()))
			return
		case codes.AlreadyExists:
			c.AbortWithStatusJSON(http.StatusConflict, errorResponse(s.Message()))
			return
		case codes.Unauthenticated:
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(s.Message()))
			return
		}
	}

	log.Error().Err(err).
		Str("request_id", c.GetString(middleware.RequestIDKey)).
		Str("path", c.FullPath()).
		Msg("request failed")
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse("Internal server error"))
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

func parseIDParam(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse("Invalid "+param))
		return 0, false
	}
	return id, true
}

// identity returns the tenant and user set by the JWT middleware.
func identity(c *gin.Context) (tenantID, userID int64) {
	return c.GetInt64(middleware.TenantIDKey), c.GetInt64(middleware.UserIDKey)
}
