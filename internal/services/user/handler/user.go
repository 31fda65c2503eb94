package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"bbsm-garage/internal/database/models"
	gerrors "bbsm-garage/internal/errors"
	sysutils "bbsm-garage/internal/utils"
)

const minPasswordLength = 8

type RegisterRequest struct {
	CompanyName string `json:"company_name"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// UserHandler registers companies (one tenant each) and authenticates their
// users.
type UserHandler struct {
	db        *gorm.DB
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewUserHandler(db *gorm.DB, jwtSecret []byte, tokenTTL time.Duration) *UserHandler {
	return &UserHandler{
		db:        db,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

// RegisterCompany creates the tenant and its first user in one transaction
// and returns a token for that user.
func (s *UserHandler) RegisterCompany(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	company := strings.TrimSpace(req.CompanyName)
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if company == "" || username == "" || email == "" {
		return nil, gerrors.InvariantViolation("company_name, username and email are required")
	}
	if len(req.Password) < minPasswordLength {
		return nil, gerrors.InvariantViolation("password must be at least %d characters", minPasswordLength)
	}

	pwHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var user models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Tenant{}).Where("company_name = ?", company).Count(&count).Error; err != nil {
			return fmt.Errorf("check company: %w", err)
		}
		if count > 0 {
			return gerrors.AlreadyExists("company %q is already registered", company)
		}

		if err := tx.Model(&models.User{}).Where("username = ? OR email = ?", username, email).Count(&count).Error; err != nil {
			return fmt.Errorf("check user: %w", err)
		}
		if count > 0 {
			return gerrors.AlreadyExists("username or email already exists")
		}

		tenant := models.Tenant{CompanyName: company, IsActive: true}
		if err := tx.Create(&tenant).Error; err != nil {
			return fmt.Errorf("create tenant: %w", err)
		}

		user = models.User{
			TenantID: tenant.ID,
			Username: username,
			Email:    email,
			Password: string(pwHash),
			IsActive: true,
		}
		if err := tx.Omit("Tenant").Create(&user).Error; err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		user.Tenant = &tenant
		return nil
	})
	if err != nil {
		return nil, err
	}

	token, exp, err := sysutils.GenerateToken(s.jwtSecret, user.ID, user.TenantID, user.Username, s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	log.Info().Int64("tenant_id", user.TenantID).Str("username", user.Username).Msg("company registered")
	return &AuthResponse{Token: token, ExpiresAt: exp, User: &user}, nil
}

func (s *UserHandler) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var user models.User
	if err := s.db.WithContext(ctx).
		Preload("Tenant").
		Where("username = ?", strings.TrimSpace(req.Username)).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gerrors.Unauthenticated("Invalid username or password")
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, gerrors.Unauthenticated("Invalid username or password")
	}
	if !user.IsActive || (user.Tenant != nil && !user.Tenant.IsActive) {
		return nil, gerrors.Unauthenticated("Account is disabled")
	}

	token, exp, err := sysutils.GenerateToken(s.jwtSecret, user.ID, user.TenantID, user.Username, s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("last_login", now).Error; err != nil {
		log.Warn().Err(err).Int64("user_id", user.ID).Msg("failed to record last login")
	}
	user.LastLogin = &now

	return &AuthResponse{Token: token, ExpiresAt: exp, User: &user}, nil
}

// GetProfile returns the user scoped to its tenant.
func (s *UserHandler) GetProfile(ctx context.Context, tenantID, userID int64) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).
		Preload("Tenant").
		Where("id = ? AND tenant_id = ?", userID, tenantID).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gerrors.NotFound("user", userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &user, nil
}
