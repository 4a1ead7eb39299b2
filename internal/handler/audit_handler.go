package handler

import (
	"net/http"
	"strconv"

	"crm-service/internal/audit"
	"crm-service/internal/middleware"
	"crm-service/internal/model"

	"github.com/labstack/echo/v4"
)

func pageParams(c echo.Context) audit.Page {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	perPage, _ := strconv.Atoi(c.QueryParam("per_page"))
	return audit.Page{Page: page, PerPage: perPage}.Normalize()
}

func auditPage(c echo.Context, page audit.Page, logs []model.AuditLog, total int64) error {
	return middleware.OK(c, http.StatusOK, "", echo.Map{
		"logs": logs,
		"pagination": echo.Map{
			"page":     page.Page,
			"per_page": page.PerPage,
			"total":    total,
		},
	})
}

// ListAuditLogs returns the audit trail of the tenant, newest first
func (h *Handler) ListAuditLogs(c echo.Context) error {
	page := pageParams(c)
	logs, total, err := audit.List(c.Request().Context(), page)
	if err != nil {
		return middleware.Fail(c, err)
	}
	return auditPage(c, page, logs, total)
}

// MyAuditLogs returns the entries produced by the principal
func (h *Handler) MyAuditLogs(c echo.Context) error {
	page := pageParams(c)
	logs, total, err := audit.ForUser(c.Request().Context(), middleware.Principal(c).User.ID, page)
	if err != nil {
		return middleware.Fail(c, err)
	}
	return auditPage(c, page, logs, total)
}

// ResourceAuditLogs returns the entries of one resource
func (h *Handler) ResourceAuditLogs(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return middleware.Fail(c, err)
	}
	page := pageParams(c)
	logs, total, err := audit.ForResource(c.Request().Context(), c.Param("type"), id, page)
	if err != nil {
		return middleware.Fail(c, err)
	}
	return auditPage(c, page, logs, total)
}
