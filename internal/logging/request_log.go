package logging

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	requestIDHeader = "X-Request-Id"
	skipRequestKey  = "copilot-import/skip-request-log"
)

// RequestLogger logs one line per API request. The caller's X-Request-Id is echoed
// back or a fresh one is assigned. Requests addressing a module carry its name and
// the action taken on it, so a synthesis failure can be traced to the request that
// triggered it.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		c.Next()

		if c.GetBool(skipRequestKey) {
			return
		}

		status := c.Writer.Status()
		latency := roundLatency(time.Since(start))
		fields := log.Fields{
			"request_id": id,
			"status":     status,
			"latency_ms": latency.Milliseconds(),
			"client_ip":  c.ClientIP(),
		}
		if name := c.Param("name"); name != "" {
			fields["module"] = name
			fields["action"] = moduleAction(c.Request.Method, c.FullPath())
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			fields["error"] = errs.String()
		}

		msg := fmt.Sprintf("%s %s -> %d in %v", c.Request.Method, c.Request.URL.Path, status, latency)
		log.WithFields(fields).Log(statusLevel(status), msg)
	}
}

// Recovery turns a panic inside a handler into a 500 response. Synthesized code runs
// in-process, so interpreter glue that panics must not take the server down.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.WithFields(log.Fields{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"module":     c.Param("name"),
			"path":       c.Request.URL.Path,
			"panic":      recovered,
			"stack":      string(debug.Stack()),
		}).Error("handler panicked")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}

// SkipRequestLog keeps RequestLogger quiet for c, e.g. for health checks.
func SkipRequestLog(c *gin.Context) {
	if c != nil {
		c.Set(skipRequestKey, true)
	}
}

func moduleAction(method, route string) string {
	switch {
	case method == http.MethodDelete:
		return "forget"
	case strings.HasSuffix(route, "/call"):
		return "call"
	default:
		return "describe"
	}
}

func statusLevel(status int) log.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return log.ErrorLevel
	case status >= http.StatusBadRequest:
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func roundLatency(d time.Duration) time.Duration {
	if d > time.Minute {
		return d.Truncate(time.Second)
	}
	return d.Truncate(time.Millisecond)
}
