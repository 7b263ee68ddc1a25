package server

import (
	"github.com/gin-gonic/gin"
)

// API error codes. Every failure is caught at the request boundary and
// converted to a structured JSON body; nothing crashes the process.
const (
	ErrCodeMisconfigured    = "server_misconfigured"
	ErrCodeMissingTicker    = "missing_ticker_param"
	ErrCodeCacheUnavailable = "fact_cache_unavailable"
	ErrCodeFactNotFound     = "fact_not_found"
	ErrCodeSettleException  = "settle_exception"
	ErrCodeUpstreamError    = "upstream_error"
	ErrCodeInternalError    = "internal_error"
)

// apiError is the JSON error body shape.
type apiError struct {
	Error      string   `json:"error"`
	Message    string   `json:"message,omitempty"`
	MissingEnv []string `json:"missing_env,omitempty"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.Header("Cache-Control", "no-store")
	c.AbortWithStatusJSON(status, apiError{Error: code, Message: message})
}

func abortMisconfigured(c *gin.Context, missing []string) {
	c.Header("Cache-Control", "no-store")
	c.AbortWithStatusJSON(500, apiError{Error: ErrCodeMisconfigured, MissingEnv: missing})
}
