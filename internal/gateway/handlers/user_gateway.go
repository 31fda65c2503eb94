package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"bbsm-garage/internal/database/models"
	userhandler "bbsm-garage/internal/services/user/handler"
)

type UserService interface {
	RegisterCompany(ctx context.Context, req userhandler.RegisterRequest) (*userhandler.AuthResponse, error)
	Login(ctx context.Context, req userhandler.LoginRequest) (*userhandler.AuthResponse, error)
	GetProfile(ctx context.Context, tenantID, userID int64) (*models.User, error)
}

type UserHTTPHandler struct {
	users UserService
}

func NewUserHTTPHandler(users UserService) *UserHTTPHandler {
	return &UserHTTPHandler{users: users}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RegisterRequest struct {
	CompanyName string `json:"company_name" binding:"required"`
	Username    string `json:"username" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
}

// --- Authentication ---

func (h *UserHTTPHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := h.users.Login(ctx, userhandler.LoginRequest{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Login successful", resp))
}

func (h *UserHTTPHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := h.users.RegisterCompany(ctx, userhandler.RegisterRequest{
		CompanyName: req.CompanyName,
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse("Company registered successfully", resp))
}

func (h *UserHTTPHandler) Me(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	tenantID, userID := identity(c)
	user, err := h.users.GetProfile(ctx, tenantID, userID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("User retrieved", user))
}
