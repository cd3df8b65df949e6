package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lithammer/shortuuid/v3"
)

const (
	// RawCredentialKey carries the bearer token from the Authorization
	// header; the executor validates it before any resolver runs.
	RawCredentialKey = "rawCredential"
	// RequestIDKey carries the per-request id used in logs.
	RequestIDKey = "requestID"
)

// BearerToken pulls the bearer credential out of the Authorization header
// and stores it for the query handler. Validation happens later; an absent
// or malformed header simply leaves the credential empty and the executor
// rejects the operation.
func BearerToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			c.Set(RawCredentialKey, strings.TrimPrefix(header, "Bearer "))
		}
		c.Next()
	}
}

// RequestID tags every request with a short unique id.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = shortuuid.New()
		}
		c.Set(RequestIDKey, id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

// RawCredential returns the stored bearer token, empty when none was sent.
func RawCredential(c *gin.Context) string {
	token, _ := c.Get(RawCredentialKey)
	s, _ := token.(string)
	return s
}

// GetRequestID returns the stored request id for log correlation.
func GetRequestID(c *gin.Context) string {
	id, _ := c.Get(RequestIDKey)
	s, _ := id.(string)
	return s
}
