package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"crm-service/internal/apperr"
	"crm-service/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// OperatorStore manages operators in the control-plane database
type OperatorStore struct {
	db *gorm.DB
}

// NewOperatorStore creates an operator store
func NewOperatorStore(db *gorm.DB) *OperatorStore {
	return &OperatorStore{db: db}
}

// Create stores an operator with a bcrypt hash of password
func (s *OperatorStore) Create(ctx context.Context, name, email, password string) (*model.Operator, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	operator := &model.Operator{
		Name:     name,
		Email:    strings.ToLower(strings.TrimSpace(email)),
		Password: string(hashed),
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Operator{}).Where("email = ?", operator.Email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: operator %s already exists", apperr.ErrConflict, operator.Email)
	}
	if err := s.db.WithContext(ctx).Create(operator).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: operator %s already exists", apperr.ErrConflict, operator.Email)
		}
		return nil, err
	}
	return operator, nil
}

// Find returns the operator with id
func (s *OperatorStore) Find(ctx context.Context, id uint) (*model.Operator, error) {
	var operator model.Operator
	if err := s.db.WithContext(ctx).First(&operator, id).Error; err != nil {
		return nil, notFound(err, "operator")
	}
	return &operator, nil
}

// FindByEmail returns the operator with email
func (s *OperatorStore) FindByEmail(ctx context.Context, email string) (*model.Operator, error) {
	var operator model.Operator
	if err := s.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&operator).Error; err != nil {
		return nil, notFound(err, "operator")
	}
	return &operator, nil
}

// Authenticate returns the operator matching email and password
func (s *OperatorStore) Authenticate(ctx context.Context, email, password string) (*model.Operator, error) {
	operator, err := s.FindByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(operator.Password), []byte(password)); err != nil {
		return nil, apperr.ErrInvalidCredentials
	}
	return operator, nil
}

// All returns every operator
func (s *OperatorStore) All(ctx context.Context) ([]model.Operator, error) {
	var operators []model.Operator
	err := s.db.WithContext(ctx).Order("id").Find(&operators).Error
	return operators, err
}
