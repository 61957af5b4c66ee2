package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequestLogEngine(t *testing.T) (*gin.Engine, *test.Hook) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	prev := log.GetLevel()
	log.SetLevel(log.InfoLevel)
	t.Cleanup(func() { log.SetLevel(prev) })

	hook := test.NewGlobal()
	engine := gin.New()
	engine.Use(RequestLogger(), Recovery())
	engine.GET("/healthz", func(c *gin.Context) {
		SkipRequestLog(c)
		c.Status(http.StatusOK)
	})
	engine.POST("/v1/modules/:name/call", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no module"})
	})
	engine.DELETE("/v1/modules/:name", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	engine.GET("/v1/modules/:name", func(c *gin.Context) {
		panic("interpreter blew up")
	})
	return engine, hook
}

func TestRequestLogger_ModuleCall(t *testing.T) {
	engine, hook := newRequestLogEngine(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/modules/fizzbuzz/call", nil)
	req.Header.Set("X-Request-Id", "req-1")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-Id"))
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, log.WarnLevel, entry.Level)
	assert.Equal(t, "req-1", entry.Data["request_id"])
	assert.Equal(t, "fizzbuzz", entry.Data["module"])
	assert.Equal(t, "call", entry.Data["action"])
	assert.Equal(t, http.StatusNotFound, entry.Data["status"])
	assert.Contains(t, entry.Message, "POST /v1/modules/fizzbuzz/call -> 404")
}

func TestRequestLogger_ForgetAssignsRequestID(t *testing.T) {
	engine, hook := newRequestLogEngine(t)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/modules/greet", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	id := rec.Header().Get("X-Request-Id")
	assert.NotEmpty(t, id)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, log.InfoLevel, entry.Level)
	assert.Equal(t, id, entry.Data["request_id"])
	assert.Equal(t, "forget", entry.Data["action"])
}

func TestRequestLogger_Skip(t *testing.T) {
	engine, hook := newRequestLogEngine(t)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Empty(t, hook.AllEntries())
}

func TestRecovery_PanicBecomes500(t *testing.T) {
	engine, hook := newRequestLogEngine(t)

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/modules/fizzbuzz", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	var panicked *log.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "handler panicked" {
			panicked = e
		}
	}
	require.NotNil(t, panicked)
	assert.Equal(t, "fizzbuzz", panicked.Data["module"])
	assert.Equal(t, "interpreter blew up", panicked.Data["panic"])
}
