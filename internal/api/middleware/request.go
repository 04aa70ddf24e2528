package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sinkobela/ecmr-backend-sub000/pkg/metrics"
	"go.uber.org/zap"
)

const RequestIDKey = "request_id"

// IPAttemptTracker counts attempts per client IP inside a sliding window.
type IPAttemptTracker struct {
	attempts     map[string]*IPAttemptInfo
	mu           sync.RWMutex
	maxAttempts  int
	window       time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
	stopChan     chan struct{}
	stopOnce     sync.Once
}

type IPAttemptInfo struct {
	Count       int
	FirstTry    time.Time
	LastAttempt time.Time
	Blocked     bool
}

func NewIPAttemptTracker(maxAttempts int, window time.Duration) *IPAttemptTracker {
	tracker := &IPAttemptTracker{
		attempts:     make(map[string]*IPAttemptInfo),
		maxAttempts:  maxAttempts,
		window:       window,
		cleanupEvery: window,
		now:          time.Now,
		stopChan:     make(chan struct{}),
	}

	go tracker.startCleanup()

	return tracker
}

func (t *IPAttemptTracker) startCleanup() {
	ticker := time.NewTicker(t.cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			t.cleanOldEntries()
		}
	}
}

func (t *IPAttemptTracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
}

func (t *IPAttemptTracker) cleanOldEntries() {
	t.mu.Lock()
	defer t.mu.Unlock()

	expiry := t.now().Add(-t.window)
	for ip, info := range t.attempts {
		if info.FirstTry.Before(expiry) {
			delete(t.attempts, ip)
		}
	}
}

// RecordAttempt counts one attempt and reports whether ip is now over the limit.
func (t *IPAttemptTracker) RecordAttempt(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	info, exists := t.attempts[ip]
	if !exists || now.Sub(info.FirstTry) > t.window {
		info = &IPAttemptInfo{FirstTry: now}
		t.attempts[ip] = info
	}

	info.Count++
	info.LastAttempt = now

	if info.Count > t.maxAttempts {
		info.Blocked = true
	}
	return info.Blocked
}

func (t *IPAttemptTracker) IsBlocked(ip string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info, exists := t.attempts[ip]
	if !exists {
		return false
	}
	return info.Blocked && t.now().Sub(info.FirstTry) <= t.window
}

type RequestMiddleware struct {
	logger         *zap.Logger
	metrics        *metrics.MetricsCollector
	attemptTracker *IPAttemptTracker
}

func NewRequestMiddleware(logger *zap.Logger, metrics *metrics.MetricsCollector, tracker *IPAttemptTracker) *RequestMiddleware {
	return &RequestMiddleware{
		logger:         logger,
		metrics:        metrics,
		attemptTracker: tracker,
	}
}

func RequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

// AbortWithError writes the error envelope and stops the chain.
func AbortWithError(c *gin.Context, status int, code, message string, details any) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": RequestID(c),
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func (rm *RequestMiddleware) ProcessRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := "req_" + uuid.NewString()
		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		rm.metrics.IncrementCounter("http_requests", map[string]string{
			"method": c.Request.Method,
			"route":  route,
			"status": strconv.Itoa(c.Writer.Status()),
		})
		rm.metrics.ObserveLatency("http_request", duration)

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.Int("size", c.Writer.Size()),
			zap.String("client_ip", c.ClientIP()),
		}
		if p := Principal(c); p != nil {
			fields = append(fields, zap.String("principal", p.Subject()))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		rm.logger.Info("HTTP Request", fields...)
	}
}

// AttemptLimit throttles the routes it is attached to per client IP.
func (rm *RequestMiddleware) AttemptLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if rm.attemptTracker.RecordAttempt(clientIP) {
			rm.logger.Warn("Throttling client due to repeated attempts",
				zap.String("client_ip", clientIP),
				zap.String("path", c.FullPath()))
			rm.metrics.IncrementCounter("http_throttled", map[string]string{"route": c.FullPath()})
			AbortWithError(c, http.StatusTooManyRequests, "too_many_attempts", "too many attempts, retry later", nil)
			return
		}
		c.Next()
	}
}

func (rm *RequestMiddleware) RecoverPanic() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				rm.logger.Error("Panic recovered",
					zap.String("request_id", RequestID(c)),
					zap.Any("error", err),
					zap.Stack("stack"))
				AbortWithError(c, http.StatusInternalServerError, "internal", "internal server error", nil)
			}
		}()
		c.Next()
	}
}
