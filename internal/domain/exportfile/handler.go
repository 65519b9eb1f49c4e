package exportfile

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/flourish/export/pkg/pagination"
)

// Starter launches export jobs. Implemented by the job orchestrator; the
// handler stays decoupled from how work is scheduled.
type Starter interface {
	StartExport(ctx context.Context, scope, format string) (*ExportFile, error)
	StartFlat(ctx context.Context, scope, format string) (*ExportFile, error)
	StartMetadata(ctx context.Context, scope string) (*ExportFile, error)
}

type Handler struct {
	svc     *Service
	starter Starter
}

func NewHandler(svc *Service, starter Starter) *Handler {
	return &Handler{svc: svc, starter: starter}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/exports/:scope", h.StartExport)
	api.POST("/exports/:scope/flat", h.StartFlat)
	api.POST("/exports/:scope/metadata", h.StartMetadata)
	api.GET("/exports", h.ListExports)
	api.GET("/exports/:id", h.GetExport)
	api.GET("/exports/:id/download", h.DownloadExport)
}

func (h *Handler) StartExport(c echo.Context) error {
	scope := c.Param("scope")
	format := c.QueryParam("format")
	if format == "" {
		format = "csv"
	}
	ef, err := h.starter.StartExport(c.Request().Context(), scope, format)
	if errors.Is(err, ErrExportInProgress) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, ef)
}

func (h *Handler) StartFlat(c echo.Context) error {
	scope := c.Param("scope")
	format := c.QueryParam("format")
	if format == "" {
		format = "csv"
	}
	ef, err := h.starter.StartFlat(c.Request().Context(), scope, format)
	if errors.Is(err, ErrExportInProgress) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, ef)
}

func (h *Handler) StartMetadata(c echo.Context) error {
	ef, err := h.starter.StartMetadata(c.Request().Context(), c.Param("scope"))
	if errors.Is(err, ErrExportInProgress) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, ef)
}

func (h *Handler) ListExports(c echo.Context) error {
	pg := pagination.FromContext(c)
	study := c.QueryParam("study")
	files, total, err := h.svc.List(c.Request().Context(), study, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(files, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetExport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ef, err := h.svc.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "export not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ef)
}

func (h *Handler) DownloadExport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ef, err := h.svc.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "export not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ef.DownloadComplete || ef.Document == "" {
		return echo.NewHTTPError(http.StatusConflict, "export still running")
	}
	if _, err := os.Stat(ef.Document); err != nil {
		return echo.NewHTTPError(http.StatusGone, "archive no longer on disk")
	}
	return c.Attachment(ef.Document, filepath.Base(ef.Document))
}
