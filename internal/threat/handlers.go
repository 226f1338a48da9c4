package threat

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/threatscore/internal/logging"
)

// ExportFilename is suggested to clients downloading the alert CSV.
const ExportFilename = "threat_alerts.csv"

// Handler provides HTTP endpoints for threat scans.
type Handler struct {
	service *Service
}

// NewHandler creates a new threat handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up scan routes. guard runs before every scan (rate
// limiting); model fitting makes these the expensive endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, guard ...gin.HandlerFunc) {
	scans := r.Group("/threats", guard...)
	scans.GET("", h.GetThreats)
	scans.POST("/scan", h.Scan)
	scans.GET("/export", h.Export)
}

// GetThreats handles GET /v1/threats
func (h *Handler) GetThreats(c *gin.Context) {
	req, err := h.requestFromQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}

	report, err := h.service.Scan(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// ScanRequest is the body of POST /v1/threats/scan. Absent fields use the
// server defaults; a thresholds object must be complete.
type ScanRequest struct {
	Mode          string         `json:"mode"`
	Thresholds    map[string]int `json:"thresholds"`
	Contamination *float64       `json:"contamination"`
	Publish       *bool          `json:"publish"`
}

// Scan handles POST /v1/threats/scan
func (h *Handler) Scan(c *gin.Context) {
	var body ScanRequest
	// An empty body scans with the defaults.
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	req := h.service.Defaults()
	if body.Mode != "" {
		mode, err := ParseMode(body.Mode)
		if err != nil {
			writeError(c, err)
			return
		}
		req.Mode = mode
	}
	if body.Thresholds != nil {
		t, err := ParseThresholds(body.Thresholds)
		if err != nil {
			writeError(c, err)
			return
		}
		req.Thresholds = t
	}
	if body.Contamination != nil {
		req.Contamination = *body.Contamination
	}

	publish := h.service.CanPublish()
	if body.Publish != nil {
		publish = publish && *body.Publish
	}

	ctx := c.Request.Context()
	if !publish {
		report, err := h.service.Scan(ctx, req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"report": report, "published": false})
		return
	}

	report, err := h.service.ScanAndPublish(ctx, req)
	if report == nil {
		writeError(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"report":        report,
			"published":     false,
			"publish_error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report, "published": len(report.Alerts) > 0})
}

// Export handles GET /v1/threats/export
func (h *Handler) Export(c *gin.Context) {
	req, err := h.requestFromQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}

	report, err := h.service.Scan(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", "attachment; filename="+ExportFilename)
	c.Status(http.StatusOK)
	if err := WriteCSV(c.Writer, report.Alerts); err != nil {
		logging.L(c.Request.Context()).Error("alert export failed", "scan_id", report.ID, "error", err)
	}
}

// requestFromQuery overlays query parameters on the service defaults. Each
// threshold can be given on its own.
func (h *Handler) requestFromQuery(c *gin.Context) (Request, error) {
	req := h.service.Defaults()

	if m := c.Query("mode"); m != "" {
		mode, err := ParseMode(m)
		if err != nil {
			return req, err
		}
		req.Mode = mode
	}

	thresholds := req.Thresholds.Map()
	for _, key := range ThresholdKeys {
		v, ok := c.GetQuery(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, paramError(key, "must be an integer")
		}
		thresholds[key] = n
	}
	t, err := ParseThresholds(thresholds)
	if err != nil {
		return req, err
	}
	req.Thresholds = t

	if v, ok := c.GetQuery("contamination"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, paramError("contamination", "must be a number")
		}
		req.Contamination = f
	}
	return req, nil
}

func writeError(c *gin.Context, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
			"field":   ve.Field,
		})
	case errors.Is(err, ErrUnknownMode):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "unknown_mode",
			"message": err.Error(),
		})
	default:
		logging.L(c.Request.Context()).Error("scan failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Scan failed",
		})
	}
}
