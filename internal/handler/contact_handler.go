package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"crm-service/internal/apperr"
	"crm-service/internal/audit"
	"crm-service/internal/middleware"
	"crm-service/internal/model"
	"crm-service/pkg/database"
	"crm-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	contactResource       = "contact"
	permissionContactsAll = "contacts.view_all"
)

type contactRequest struct {
	Name    string `json:"name" validate:"required,max=255"`
	Email   string `json:"email" validate:"omitempty,email,max=255"`
	Phone   string `json:"phone" validate:"max=50"`
	Company string `json:"company" validate:"max=255"`
	Status  string `json:"status" validate:"omitempty,oneof=active inactive lead prospect"`
}

type contactUpdateRequest struct {
	Name    *string `json:"name" validate:"omitempty,min=1,max=255"`
	Email   *string `json:"email" validate:"omitempty,email,max=255"`
	Phone   *string `json:"phone" validate:"omitempty,max=50"`
	Company *string `json:"company" validate:"omitempty,max=255"`
	Status  *string `json:"status" validate:"omitempty,oneof=active inactive lead prospect"`
}

// contacts returns the contacts query visible to the principal. Users
// without contacts.view_all only see the contacts they own.
func (h *Handler) contacts(ctx context.Context, user *model.User) (*gorm.DB, error) {
	db, err := database.TenantDB(ctx)
	if err != nil {
		return nil, err
	}
	all, err := h.Authz.HasPermission(ctx, user.ID, permissionContactsAll)
	if err != nil {
		return nil, err
	}
	q := db.Model(&model.Contact{})
	if !all {
		q = q.Where("user_id = ?", user.ID)
	}
	return q, nil
}

// visibleContact loads a contact the principal may see. Contacts of other
// users are reported exactly like missing ones.
func (h *Handler) visibleContact(c echo.Context) (*model.Contact, error) {
	id, err := idParam(c, "id")
	if err != nil {
		return nil, err
	}
	q, err := h.contacts(c.Request().Context(), middleware.Principal(c).User)
	if err != nil {
		return nil, err
	}
	var contact model.Contact
	if err := q.Where("id = ?", id).First(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: contact %d", apperr.ErrNotFound, id)
		}
		return nil, err
	}
	return &contact, nil
}

// ListContacts lists the visible contacts; ?status= filters by status
func (h *Handler) ListContacts(c echo.Context) error {
	q, err := h.contacts(c.Request().Context(), middleware.Principal(c).User)
	if err != nil {
		return middleware.Fail(c, err)
	}
	if status := c.QueryParam("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	contacts := []model.Contact{}
	if err := q.Order("id").Find(&contacts).Error; err != nil {
		return middleware.Fail(c, err)
	}
	return middleware.OK(c, http.StatusOK, "", contacts)
}

// GetContact returns one visible contact
func (h *Handler) GetContact(c echo.Context) error {
	contact, err := h.visibleContact(c)
	if err != nil {
		return middleware.Fail(c, err)
	}
	return middleware.OK(c, http.StatusOK, "", contact)
}

// CreateContact creates a contact owned by the principal
func (h *Handler) CreateContact(c echo.Context) error {
	var req contactRequest
	if err := bind(c, &req); err != nil {
		return middleware.Fail(c, err)
	}
	user := middleware.Principal(c).User
	ctx := c.Request().Context()

	db, err := database.TenantDB(ctx)
	if err != nil {
		return middleware.Fail(c, err)
	}
	contact := model.Contact{
		UserID:  user.ID,
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Company: req.Company,
		Status:  req.Status,
	}
	if contact.Status == "" {
		contact.Status = "lead"
	}
	if err := db.Create(&contact).Error; err != nil {
		return middleware.Fail(c, err)
	}

	h.audit(c, audit.Entry{
		Action:       audit.ActionCreated,
		ResourceType: contactResource,
		ResourceID:   &contact.ID,
		ResourceName: contact.Name,
		After:        contact,
	})
	return middleware.OK(c, http.StatusCreated, "Contact created successfully", contact)
}

// UpdateContact changes the given fields of a visible contact
func (h *Handler) UpdateContact(c echo.Context) error {
	var req contactUpdateRequest
	if err := bind(c, &req); err != nil {
		return middleware.Fail(c, err)
	}
	contact, err := h.visibleContact(c)
	if err != nil {
		return middleware.Fail(c, err)
	}
	before := *contact

	assign(&contact.Name, req.Name)
	assign(&contact.Email, req.Email)
	assign(&contact.Phone, req.Phone)
	assign(&contact.Company, req.Company)
	assign(&contact.Status, req.Status)

	db, err := database.TenantDB(c.Request().Context())
	if err != nil {
		return middleware.Fail(c, err)
	}
	if err := db.Save(contact).Error; err != nil {
		return middleware.Fail(c, err)
	}

	h.audit(c, audit.Entry{
		Action:       audit.ActionUpdated,
		ResourceType: contactResource,
		ResourceID:   &contact.ID,
		ResourceName: contact.Name,
		Before:       before,
		After:        contact,
	})
	return middleware.OK(c, http.StatusOK, "Contact updated successfully", contact)
}

// DeleteContact removes a visible contact
func (h *Handler) DeleteContact(c echo.Context) error {
	contact, err := h.visibleContact(c)
	if err != nil {
		return middleware.Fail(c, err)
	}
	db, err := database.TenantDB(c.Request().Context())
	if err != nil {
		return middleware.Fail(c, err)
	}
	if err := db.Delete(contact).Error; err != nil {
		return middleware.Fail(c, err)
	}

	h.audit(c, audit.Entry{
		Action:       audit.ActionDeleted,
		ResourceType: contactResource,
		ResourceID:   &contact.ID,
		ResourceName: contact.Name,
		Before:       contact,
	})
	return middleware.OK(c, http.StatusOK, "Contact deleted successfully", nil)
}

func assign(field *string, value *string) {
	if value != nil {
		*field = *value
	}
}

// audit records entry for the principal. The write it describes has
// already been committed, so a failure is only logged.
func (h *Handler) audit(c echo.Context, entry audit.Entry) {
	entry.Request = requestInfo(c)
	if err := h.Audit.Record(c.Request().Context(), middleware.Principal(c).User, entry); err != nil {
		logger.FromContext(c).Warn("Failed to record audit entry",
			zap.String("action", entry.Action),
			zap.String("resource_type", entry.ResourceType),
			zap.Error(err))
	}
}
