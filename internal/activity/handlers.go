package activity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/threatscore/internal/logging"
	"github.com/mbd888/threatscore/internal/metrics"
	"github.com/mbd888/threatscore/internal/pagination"
	"github.com/mbd888/threatscore/internal/validation"
)

// maxImportSize caps CSV uploads (10MB).
const maxImportSize = 10 << 20

// Handler provides HTTP endpoints for the activity log.
type Handler struct {
	store Store
	now   func() time.Time
}

// NewHandler creates a new activity handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store, now: time.Now}
}

// RegisterRoutes sets up activity routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/activity", h.LogActivity)
	r.POST("/activity/login", h.LogLogin)
	r.POST("/activity/import", h.Import)
	r.GET("/activity", h.ListActivity)
	r.DELETE("/activity", h.ClearActivity)
}

// LogRequest is the body of POST /v1/activity. Pointer fields distinguish
// "absent" from zero.
type LogRequest struct {
	Username       string     `json:"username" binding:"required"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	LoginHour      *int       `json:"login_hour"`
	FilesAccessed  *int       `json:"files_accessed"`
	EmailsSent     *int       `json:"emails_sent"`
	USBDevicesUsed *int       `json:"usb_devices_used"`
}

func (req *LogRequest) record() (*Record, error) {
	if errs := validation.Validate(validation.ValidUsername("username", req.Username)); len(errs) > 0 {
		return nil, errs
	}

	var missing []string
	for _, f := range []struct {
		name string
		v    *int
	}{
		{"login_hour", req.LoginHour},
		{"files_accessed", req.FilesAccessed},
		{"emails_sent", req.EmailsSent},
		{"usb_devices_used", req.USBDevicesUsed},
	} {
		if f.v == nil {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, errors.New("missing fields: " + strings.Join(missing, ", "))
	}

	rec := &Record{
		Username:       req.Username,
		LoginHour:      *req.LoginHour,
		FilesAccessed:  *req.FilesAccessed,
		EmailsSent:     *req.EmailsSent,
		USBDevicesUsed: *req.USBDevicesUsed,
	}
	if req.Timestamp != nil {
		rec.Timestamp = req.Timestamp.Truncate(time.Second)
	}
	return rec, nil
}

// LogActivity handles POST /v1/activity
func (h *Handler) LogActivity(c *gin.Context) {
	var req LogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	rec, err := req.record()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
		return
	}

	h.append(c, rec, "api")
}

// LogLogin handles POST /v1/activity/login. It records a login at the current
// hour with all counters zero.
func (h *Handler) LogLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "username is required",
		})
		return
	}

	if errs := validation.Validate(validation.ValidUsername("username", req.Username)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
		})
		return
	}

	now := h.now()
	rec := &Record{
		Username:  req.Username,
		Timestamp: now.Truncate(time.Second),
		LoginHour: now.Hour(),
	}
	h.append(c, rec, "login")
}

func (h *Handler) append(c *gin.Context, rec *Record, source string) {
	if err := h.store.Append(c.Request.Context(), rec); err != nil {
		if errors.Is(err, ErrInvalidRecord) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to append activity", "error", err, "source", source)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to record activity",
		})
		return
	}

	metrics.ActivitiesLoggedTotal.WithLabelValues(source).Inc()
	c.JSON(http.StatusCreated, gin.H{"activity": rec})
}

// ListActivity handles GET /v1/activity. Without limit or cursor it returns
// the whole log; otherwise one page ordered by log ID.
func (h *Handler) ListActivity(c *gin.Context) {
	limitParam, paged := c.GetQuery("limit")
	cursor, hasCursor := c.GetQuery("cursor")
	paged = paged || hasCursor

	var limit int
	var after int64
	if paged {
		var err error
		if limit, err = pagination.ParseLimit(limitParam); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
		if after, err = pagination.Decode(cursor); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
	}

	records, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	if records == nil {
		records = []Record{}
	}

	if !paged {
		c.JSON(http.StatusOK, gin.H{
			"activities": records,
			"count":      len(records),
		})
		return
	}

	page, next, more := pagination.Page(records, after, limit, func(r Record) int64 { return r.ID })
	c.JSON(http.StatusOK, gin.H{
		"activities":  page,
		"count":       len(page),
		"next_cursor": next,
		"has_more":    more,
	})
}

// ClearActivity handles DELETE /v1/activity
func (h *Handler) ClearActivity(c *gin.Context) {
	if err := h.store.Clear(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	logging.L(c.Request.Context()).Info("activity log cleared")
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// Import handles POST /v1/activity/import. The body is either a raw CSV or a
// multipart form with a "file" field. The whole file is validated before any
// row is stored.
func (h *Handler) Import(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportSize)

	body := c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "multipart upload needs a \"file\" field",
			})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "could not open uploaded file",
			})
			return
		}
		defer f.Close()
		body = f
	}

	records, err := ReadCSV(body)
	if err != nil {
		code := "invalid_csv"
		if errors.Is(err, ErrMissingColumn) {
			code = "missing_column"
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   code,
			"message": err.Error(),
		})
		return
	}

	for i := range records {
		username := records[i].Username
		if errs := validation.Validate(
			validation.Required("username", username),
			validation.ValidUsername("username", username),
		); len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": fmt.Sprintf("line %d: %s", i+2, errs.Error()),
				"details": errs,
			})
			return
		}
		// IDs are reassigned by the store.
		records[i].ID = 0
	}

	ctx := c.Request.Context()
	if err := h.store.AppendBatch(ctx, records); err != nil {
		logging.L(ctx).Error("import aborted", "error", err, "rows", len(records))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to store imported activity",
		})
		return
	}

	metrics.ActivitiesLoggedTotal.WithLabelValues("import").Add(float64(len(records)))
	logging.L(ctx).Info("activity imported", "rows", len(records))
	c.JSON(http.StatusCreated, gin.H{"imported": len(records)})
}
