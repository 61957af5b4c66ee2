// Package handlers provides HTTP handlers for the API server.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/copilot-import/copilot-import/internal/bridge"
	apperrors "github.com/copilot-import/copilot-import/internal/errors"
	"github.com/copilot-import/copilot-import/internal/importer"
	"github.com/copilot-import/copilot-import/internal/logging"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// ModuleHandler exposes the import chain over HTTP.
type ModuleHandler struct {
	chain     *importer.Chain
	namespace string
}

// NewModuleHandler creates a handler importing names beneath namespace through chain.
func NewModuleHandler(chain *importer.Chain, namespace string) *ModuleHandler {
	return &ModuleHandler{chain: chain, namespace: strings.Trim(namespace, ".")}
}

// ModuleResponse describes a resolved module.
type ModuleResponse struct {
	Name      string   `json:"name"`
	Origin    string   `json:"origin"`
	Source    string   `json:"source,omitempty"`
	Rendered  string   `json:"rendered,omitempty"`
	Imports   []string `json:"imports"`
	Truncated bool     `json:"truncated"`
}

// CallRequest is the body of a call.
type CallRequest struct {
	Args []any `json:"args"`
}

// CallResponse is the result of a call.
type CallResponse struct {
	Name    string   `json:"name"`
	Result  any      `json:"result"`
	Imports []string `json:"imports"`
}

// ListModules returns every module resolved so far.
// GET /v1/modules
func (h *ModuleHandler) ListModules(c *gin.Context) {
	mods := h.chain.Modules()
	out := make([]ModuleResponse, 0, len(mods))
	for _, m := range mods {
		out = append(out, describe(m))
	}
	c.JSON(http.StatusOK, gin.H{"modules": out})
}

// GetModule imports a module, synthesizing it on first use, and returns its source.
// GET /v1/modules/:name
func (h *ModuleHandler) GetModule(c *gin.Context) {
	m, err := h.chain.Import(c.Request.Context(), h.fullName(c.Param("name")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, describe(m))
}

// CallModule imports a module and invokes it with the JSON args.
// POST /v1/modules/:name/call
func (h *ModuleHandler) CallModule(c *gin.Context) {
	var req CallRequest
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_request", "message": err.Error()}})
		return
	}

	m, err := h.chain.Import(c.Request.Context(), h.fullName(c.Param("name")))
	if err != nil {
		writeError(c, err)
		return
	}
	fn, ok := m.Value.(importer.Callable)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "not_callable", "message": m.Name + " is not callable"}})
		return
	}

	result, err := fn.Call(c.Request.Context(), req.Args...)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := CallResponse{Name: m.Name, Result: result, Imports: []string{}}
	if p, ok := m.Value.(*bridge.Proxy); ok {
		resp.Imports = p.Imports()
	}
	c.JSON(http.StatusOK, resp)
}

// ForgetModule drops a module so the next import synthesizes it again.
// DELETE /v1/modules/:name
func (h *ModuleHandler) ForgetModule(c *gin.Context) {
	if !h.chain.Forget(h.fullName(c.Param("name"))) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "not_found", "message": "module is not loaded"}})
		return
	}
	c.Status(http.StatusNoContent)
}

// RecentLogs returns buffered log entries, oldest first.
// GET /v1/logs?limit=N
func RecentLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	c.JSON(http.StatusOK, gin.H{"entries": logging.GlobalBuffer.Recent(limit)})
}

func (h *ModuleHandler) fullName(name string) string {
	if h.namespace == "" || strings.HasPrefix(name, h.namespace+".") {
		return name
	}
	return h.namespace + "." + name
}

func describe(m *importer.Module) ModuleResponse {
	resp := ModuleResponse{Name: m.Name, Origin: m.Origin, Imports: []string{}}
	p, ok := m.Value.(*bridge.Proxy)
	if !ok {
		return resp
	}
	resp.Source = p.Source()
	resp.Imports = p.Imports()
	resp.Truncated = p.Function().Truncated
	if rendered, err := p.Rendered(); err == nil {
		resp.Rendered = rendered
	}
	return resp
}

func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	if appErr, ok := apperrors.As(err); ok {
		c.JSON(appErr.HTTPStatusCode(), gin.H{"error": appErr})
		return
	}
	var notFound *importer.ModuleNotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "not_found", "message": err.Error()}})
		return
	}
	log.WithError(err).Warn("module request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "internal", "message": err.Error()}})
}
