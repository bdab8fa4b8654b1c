package http

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"deliverybot/internal/entities"
	"deliverybot/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const rawBodyKey = "raw_body"

type Middleware struct {
	signingSecret string
	rateLimiters  map[string]*rate.Limiter
	mu            sync.Mutex
	log           *zap.Logger
}

func NewMiddleware(signingSecret string, log *zap.Logger) *Middleware {
	return &Middleware{
		signingSecret: signingSecret,
		rateLimiters:  make(map[string]*rate.Limiter),
		log:           log.Named("http"),
	}
}

// VerifySlackSignature checks the X-Slack-Signature header against the
// signing secret. The verified body is restored for the next handler.
func (m *Middleware) VerifySlackSignature() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}

		verifier, err := slack.NewSecretsVerifier(c.Request.Header, m.signingSecret)
		if err == nil {
			if _, err = verifier.Write(body); err == nil {
				err = verifier.Ensure()
			}
		}
		if err != nil {
			m.log.Warn("slack_signature_rejected",
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
				zap.Error(entities.SignatureError(err)),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
			return
		}

		c.Set(rawBodyKey, body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

// RateLimitPerClient limits requests per client IP
func (m *Middleware) RateLimitPerClient(r rate.Limit, b int) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()

		m.mu.Lock()
		limiter, exists := m.rateLimiters[key]
		if !exists {
			limiter = rate.NewLimiter(r, b)
			m.rateLimiters[key] = limiter
		}
		m.mu.Unlock()

		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}

		c.Next()
	}
}

// AccessLog writes one log line per request and counts Slack requests.
func (m *Middleware) AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.log.Info("http_request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
		if route == eventsPath || route == interactionsPath {
			metrics.InboundRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		}
	}
}

// Recovery turns a panic in a route into a 500 and an error log line.
func (m *Middleware) Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		m.log.Error("http_handler_panicked",
			zap.String("path", c.Request.URL.Path),
			zap.Error(entities.PanicError(recovered, nil)),
		)
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}

// SecurityHeaders adds security headers to prevent common attacks
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Prevent MIME type sniffing
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		// Prevent clickjacking
		c.Writer.Header().Set("X-Frame-Options", "DENY")
		c.Writer.Header().Set("Referrer-Policy", "no-referrer")
		c.Writer.Header().Set("Content-Security-Policy", "default-src 'none'")

		c.Next()
	}
}

// RequestSizeLimiter limits request body size to prevent DoS
func RequestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
