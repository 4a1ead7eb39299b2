package handler

import (
	"errors"
	"net/http"

	"crm-service/internal/apperr"
	"crm-service/internal/middleware"
	"crm-service/pkg/logger"
	"crm-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,max=255"`
	Password string `json:"password" validate:"required"`
}

// OperatorLogin authenticates an operator against the control plane
func (h *Handler) OperatorLogin(c echo.Context) error {
	log := logger.FromContext(c)

	var req loginRequest
	if err := bind(c, &req); err != nil {
		return middleware.Fail(c, err)
	}

	operator, err := h.Operators.Authenticate(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		prometheus.RecordLogin("operator", false)
		if errors.Is(err, apperr.ErrInvalidCredentials) {
			log.Info("Operator login rejected", zap.String("email", req.Email))
			prometheus.RecordAuthError("invalid_credentials")
		}
		return middleware.Fail(c, err)
	}

	token, err := h.Tokens.IssueOperator(operator.ID, operator.Email)
	if err != nil {
		log.Error("Failed to issue operator token", zap.Error(err))
		return middleware.Fail(c, err)
	}

	log.Info("Operator logged in", zap.Uint("operator_id", operator.ID))
	prometheus.RecordLogin("operator", true)
	return middleware.OK(c, http.StatusOK, "", echo.Map{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   h.AccessTTL,
		"admin":        operator,
	})
}

// OperatorMe returns the authenticated operator
func (h *Handler) OperatorMe(c echo.Context) error {
	return middleware.OK(c, http.StatusOK, "", middleware.Principal(c).Operator)
}

// ListNotifications returns the operator's notifications; ?unread=true
// limits them to unread ones
func (h *Handler) ListNotifications(c echo.Context) error {
	operator := middleware.Principal(c).Operator
	unread := c.QueryParam("unread") == "true"

	rows, err := h.Notifications.List(c.Request().Context(), operator.ID, unread)
	if err != nil {
		return middleware.Fail(c, err)
	}
	return middleware.OK(c, http.StatusOK, "", rows)
}

// MarkNotificationsRead marks all of the operator's notifications as read
func (h *Handler) MarkNotificationsRead(c echo.Context) error {
	operator := middleware.Principal(c).Operator

	n, err := h.Notifications.MarkRead(c.Request().Context(), operator.ID)
	if err != nil {
		return middleware.Fail(c, err)
	}
	return middleware.OK(c, http.StatusOK, "", echo.Map{"marked": n})
}
