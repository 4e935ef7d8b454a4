package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Per-IP rate limiters, same shape as the teacher's middleware.go.
var (
	ipLimiters = make(map[string]*rate.Limiter)
	ipLimMu    sync.RWMutex
)

func getIPLimiter(ip string) *rate.Limiter {
	ipLimMu.RLock()
	limiter, exists := ipLimiters[ip]
	ipLimMu.RUnlock()
	if exists {
		return limiter
	}

	ipLimMu.Lock()
	defer ipLimMu.Unlock()
	if limiter, exists := ipLimiters[ip]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(20), 50)
	ipLimiters[ip] = limiter
	return limiter
}

// RequestIDMiddleware assigns (or propagates) a request id, echoed on the
// response for client-side correlation.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("RequestID", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// RequestLogger logs every request's method/path/status/latency.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method
		requestID := c.GetString("RequestID")

		c.Next()

		latency := time.Since(start)
		log.Printf("[api] %s %s %s -> %d (%s)", requestID, method, path, c.Writer.Status(), latency)
	}
}

// RateLimitMiddleware enforces a per-IP token bucket, same 20rps/burst-50
// shape as the teacher's middleware.go.
func RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !getIPLimiter(c.ClientIP()).Allow() {
			respondError(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, please slow down")
			return
		}
		c.Next()
	}
}

// TimeoutMiddleware aborts a request that runs longer than timeout, per
// spec.md §5's REST default timeout.
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		finished := make(chan struct{})
		panicked := make(chan any, 1)

		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicked <- p
				}
			}()
			c.Next()
			close(finished)
		}()

		select {
		case p := <-panicked:
			log.Printf("[api] panic recovered: %v", p)
			respondError(c, http.StatusInternalServerError, "INTERNAL", "internal error")
		case <-finished:
		case <-ctx.Done():
			respondError(c, http.StatusGatewayTimeout, "TIMEOUT", "request took too long to process")
		}
	}
}

// respondError writes the error-body contract spec.md §7 requires:
// {detail, code}. Never a raw panic or stack trace.
func respondError(c *gin.Context, status int, code, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail, "code": code})
}

// responseRecorder buffers a handler's body so ResponseEnvelope can
// attach headers and rewrite error bodies after the handler has already
// run, since CORS headers and the error envelope must apply uniformly
// even to responses gin's own binding/validation machinery writes
// directly (spec.md §9: "single outgoing-response wrapper; individual
// handlers must not set CORS headers").
type responseRecorder struct {
	gin.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return len(b), nil
}

func (w *responseRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return len(s), nil
}

func (w *responseRecorder) WriteHeader(status int) {
	w.status = status
}

// ResponseEnvelope is the CORS + error-normalization middleware spec.md
// §4.16/§9 calls for: every response (including ones from handler panics,
// validation failures, or plain 404s) carries
// Access-Control-Allow-Origin, handles OPTIONS preflight generically, and
// normalizes any >=400 body that isn't already {detail,code} shaped into
// that contract. This replaces the teacher's CORSMiddleware, which only
// ever set a blanket "*" header and never touched the body.
func ResponseEnvelope(cors CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := allowedOrigin(cors, c.GetHeader("Origin"))
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		rec := &responseRecorder{ResponseWriter: c.Writer, status: c.Writer.Status()}
		c.Writer = rec
		c.Next()

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}

		body := rec.body.Bytes()
		if status >= http.StatusBadRequest && !isEnvelopeShaped(body) {
			body, _ = json.Marshal(gin.H{"detail": "Internal error", "code": "INTERNAL"})
			status = http.StatusInternalServerError
		}

		rec.ResponseWriter.WriteHeader(status)
		_, _ = rec.ResponseWriter.Write(body)
	}
}

func isEnvelopeShaped(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	var probe struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Detail != ""
}

func allowedOrigin(cors CORSConfig, requestOrigin string) string {
	if len(cors.AllowedOrigins) == 0 {
		return "*"
	}
	for _, o := range cors.AllowedOrigins {
		if o == requestOrigin {
			return o
		}
	}
	return cors.AllowedOrigins[0]
}
