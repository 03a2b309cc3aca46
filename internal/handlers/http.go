// Package handlers exposes the Facade's three operations over HTTP, plus a
// WebSocket feed of populate-completion events (stream.go). This is demo
// scaffolding, not part of the cache's core contract: spec.md explicitly
// leaves "any host application" out of scope, but every production Go
// module in this corpus ships one exercised entry point, so this package
// gives the library one too.
package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/intelpoc/tscache/internal/facade"
)

// CacheHandler adapts a Facade to Gin routes.
type CacheHandler struct {
	facade *facade.Facade
	logger *zap.Logger

	// bodyPool reuses read buffers across requests under load, the same
	// allocation-reduction shape the teacher's location handler uses for
	// its WebSocket message pool.
	bodyPool *sync.Pool

	requests *prometheus.CounterVec
}

// NewCacheHandler constructs a CacheHandler and registers its Prometheus
// counters against reg.
func NewCacheHandler(f *facade.Facade, logger *zap.Logger, reg *prometheus.Registry) *CacheHandler {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tscache_requests_total",
			Help: "Count of cache facade operations by name and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	reg.MustRegister(requests)

	return &CacheHandler{
		facade: f,
		logger: logger,
		bodyPool: &sync.Pool{
			New: func() interface{} { return make([]byte, 0, 4096) },
		},
		requests: requests,
	}
}

// RegisterRoutes attaches this handler's routes to r.
func (h *CacheHandler) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/init", h.handleInit)
	v1.POST("/data", h.handleAddData)
	v1.GET("/data", h.handleGetData)
}

type initRequest struct {
	CacheSetup string `json:"cacheSetup"`
	Schema     string `json:"schema"`
}

func (h *CacheHandler) handleInit(c *gin.Context) {
	var req initRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.requests.WithLabelValues("init", "bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.facade.Init(req.CacheSetup, req.Schema); err != nil {
		h.requests.WithLabelValues("init", "error").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.requests.WithLabelValues("init", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"status": "initialized"})
}

func (h *CacheHandler) handleAddData(c *gin.Context) {
	body := bytes.NewBuffer(h.bodyPool.Get().([]byte)[:0])
	defer func() { h.bodyPool.Put(body.Bytes()[:0]) }() //nolint:staticcheck // pool reuse, not retained past this call

	if _, err := body.ReadFrom(c.Request.Body); err != nil {
		h.requests.WithLabelValues("add_data", "bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	if err := h.facade.AddData(body.String()); err != nil {
		h.requests.WithLabelValues("add_data", "error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.requests.WithLabelValues("add_data", "ok").Inc()
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *CacheHandler) handleGetData(c *gin.Context) {
	numOfPoints, _ := strconv.Atoi(c.Query("numOfPoints"))
	params := struct {
		StartDate   string `json:"startDate"`
		EndDate     string `json:"endDate"`
		NumOfPoints int    `json:"numOfPoints"`
	}{
		StartDate:   c.Query("startDate"),
		EndDate:     c.Query("endDate"),
		NumOfPoints: numOfPoints,
	}

	raw, err := json.Marshal(params)
	if err != nil {
		h.requests.WithLabelValues("get_data", "bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to encode query params"})
		return
	}

	response := h.facade.GetData(string(raw))
	h.requests.WithLabelValues("get_data", "ok").Inc()
	c.Data(http.StatusOK, "application/json", []byte(response))
}
