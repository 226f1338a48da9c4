package simulate

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/threatscore/internal/activity"
	"github.com/mbd888/threatscore/internal/logging"
	"github.com/mbd888/threatscore/internal/metrics"
)

// maxHTTPBatch bounds batches generated through the API.
const maxHTTPBatch = 10_000

// Handler appends simulated activity to a store.
type Handler struct {
	store activity.Store
	gen   *Generator
}

// NewHandler creates a new simulation handler.
func NewHandler(store activity.Store, gen *Generator) *Handler {
	return &Handler{store: store, gen: gen}
}

// RegisterRoutes sets up simulation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/activity/simulate", h.Simulate)
	r.POST("/activity/simulate/batch", h.SimulateBatch)
}

// SimulateRequest is the body of POST /v1/activity/simulate.
type SimulateRequest struct {
	Username string `json:"username" binding:"required"`
	Scenario string `json:"scenario" binding:"required"`
}

// Simulate handles POST /v1/activity/simulate
func (h *Handler) Simulate(c *gin.Context) {
	var req SimulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "username and scenario are required",
		})
		return
	}

	scenario, err := ParseScenario(req.Scenario)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "unknown_scenario",
			"message":   err.Error(),
			"scenarios": Scenarios,
		})
		return
	}

	rec, err := h.gen.Record(req.Username, scenario)
	if err != nil {
		h.internalError(c, err)
		return
	}
	if err := h.store.Append(c.Request.Context(), &rec); err != nil {
		h.internalError(c, err)
		return
	}

	metrics.ActivitiesLoggedTotal.WithLabelValues("simulate").Inc()
	c.JSON(http.StatusCreated, gin.H{"activity": rec, "scenario": scenario})
}

// BatchRequest is the body of POST /v1/activity/simulate/batch.
type BatchRequest struct {
	Count       int     `json:"count" binding:"required"`
	AnomalyRate float64 `json:"anomaly_rate"`
}

// SimulateBatch handles POST /v1/activity/simulate/batch
func (h *Handler) SimulateBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "count is required",
		})
		return
	}
	if req.Count < 1 || req.Count > maxHTTPBatch {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "count must be between 1 and 10000",
		})
		return
	}

	records, err := h.gen.Batch(req.Count, req.AnomalyRate)
	if err != nil {
		if errors.Is(err, ErrInvalidBatch) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
			return
		}
		h.internalError(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := h.store.AppendBatch(ctx, records); err != nil {
		h.internalError(c, err)
		return
	}

	metrics.ActivitiesLoggedTotal.WithLabelValues("simulate").Add(float64(len(records)))
	logging.L(ctx).Info("simulated activity batch", "count", len(records), "anomaly_rate", req.AnomalyRate)
	c.JSON(http.StatusCreated, gin.H{"count": len(records)})
}

func (h *Handler) internalError(c *gin.Context, err error) {
	logging.L(c.Request.Context()).Error("simulation failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Failed to record simulated activity",
	})
}
