// Package handler exposes the report engine over HTTP.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/report-engine/internal/auth"
	"carbon-scribe/report-engine/internal/reports"
	"carbon-scribe/report-engine/internal/reports/engine"
)

// ReportService is the part of the engine served over HTTP
type ReportService interface {
	Generate(ctx context.Context, req engine.GenerateRequest) (*reports.RenderedResult, error)
	ListAvailable(ctx context.Context, principal *reports.Principal) ([]reports.ReportMeta, error)
	GetSchema(ctx context.Context, code string) (*reports.Schema, error)
	Invalidate(ctx context.Context, code string) (int, error)
	Reload(code string)
	Formats() []string
}

// Handler handles HTTP requests for reporting operations
type Handler struct {
	service ReportService
	logger  *zap.Logger
}

// NewHandler creates a new reports handler
func NewHandler(service ReportService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers reporting routes. The group is expected to run
// the auth middleware already.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	reports := router.Group("/reports")
	{
		reports.GET("", h.listReports)
		reports.GET("/formats", h.listFormats)
		reports.GET("/:code/schema", h.getSchema)
		reports.POST("/:code/generate", h.generateReport)
		reports.GET("/:code/download", h.downloadReport)

		// Administrative endpoints
		reports.DELETE("/:code/cache", auth.RequireSuperuser(), h.invalidateCache)
		reports.POST("/reload", auth.RequireSuperuser(), h.reloadDefinitions)
	}
}

// GenerateBody is the JSON body of POST /reports/:code/generate
type GenerateBody struct {
	Params    map[string]any `json:"params"`
	Format    string         `json:"format"`
	SkipCache bool           `json:"skip_cache"`
}

// listReports handles GET /api/v1/reports
func (h *Handler) listReports(c *gin.Context) {
	metas, err := h.service.ListAvailable(c.Request.Context(), h.principal(c))
	if err != nil {
		h.fail(c, "Failed to list reports", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": metas, "total_count": len(metas)})
}

// listFormats handles GET /api/v1/reports/formats
func (h *Handler) listFormats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"formats": h.service.Formats()})
}

// getSchema handles GET /api/v1/reports/:code/schema
func (h *Handler) getSchema(c *gin.Context) {
	schema, err := h.service.GetSchema(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, "Failed to get report schema", err)
		return
	}
	c.JSON(http.StatusOK, schema)
}

// generateReport handles POST /api/v1/reports/:code/generate
func (h *Handler) generateReport(c *gin.Context) {
	var body GenerateBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	h.generate(c, engine.GenerateRequest{
		Code:      c.Param("code"),
		Params:    body.Params,
		Format:    body.Format,
		SkipCache: body.SkipCache,
	})
}

// downloadReport handles GET /api/v1/reports/:code/download?format=csv&year=2025.
// Every query value other than format and skip_cache becomes a parameter.
func (h *Handler) downloadReport(c *gin.Context) {
	req := engine.GenerateRequest{
		Code:      c.Param("code"),
		Format:    c.DefaultQuery("format", string(reports.FormatCSV)),
		SkipCache: c.Query("skip_cache") == "true",
		Params:    make(map[string]any),
	}
	for key, values := range c.Request.URL.Query() {
		if key == "format" || key == "skip_cache" || len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			req.Params[key] = values[0]
		} else {
			list := make([]any, len(values))
			for i, v := range values {
				list[i] = v
			}
			req.Params[key] = list
		}
	}
	h.generate(c, req)
}

func (h *Handler) generate(c *gin.Context, req engine.GenerateRequest) {
	req.Principal = h.principal(c)

	result, err := h.service.Generate(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to generate report", err, zap.String("report_code", req.Code))
		return
	}

	if !result.IsFile() {
		c.JSON(http.StatusOK, result.Data)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, result.FileName))
	if result.DownloadURL != "" {
		c.Header("X-Download-URL", result.DownloadURL)
	}
	c.Data(http.StatusOK, result.ContentType, result.Content)
}

// invalidateCache handles DELETE /api/v1/reports/:code/cache
func (h *Handler) invalidateCache(c *gin.Context) {
	code := c.Param("code")
	n, err := h.service.Invalidate(c.Request.Context(), code)
	if err != nil {
		h.fail(c, "Failed to invalidate report cache", err, zap.String("report_code", code))
		return
	}
	c.JSON(http.StatusOK, gin.H{"report_code": code, "invalidated": n})
}

// reloadDefinitions handles POST /api/v1/reports/reload?code=
func (h *Handler) reloadDefinitions(c *gin.Context) {
	code := c.Query("code")
	h.service.Reload(code)
	h.logger.Info("Report definitions reloaded", zap.String("report_code", code))
	c.JSON(http.StatusOK, gin.H{"message": "reloaded", "report_code": code})
}

// principal returns the authenticated caller. Unauthenticated requests
// run with an empty principal, which only passes reports without roles.
func (h *Handler) principal(c *gin.Context) *reports.Principal {
	if p := auth.PrincipalFrom(c); p != nil {
		return p
	}
	return &reports.Principal{}
}

// fail maps err to its HTTP status. Internal errors are logged and their
// details withheld from the response.
func (h *Handler) fail(c *gin.Context, msg string, err error, fields ...zap.Field) {
	status := reports.StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}

	resp := gin.H{"error": err.Error()}
	var paramErr *reports.ParameterError
	if errors.As(err, &paramErr) {
		resp["parameter"] = paramErr.Field
	}
	c.JSON(status, resp)
}
