package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/warden/backend/internal/auth"
	"github.com/warden/backend/internal/models"
	"github.com/warden/backend/internal/repository"
)

type AuthHandler struct {
	operatorRepo *repository.OperatorRepository
	jwtService   *auth.JWTService
}

func NewAuthHandler(operatorRepo *repository.OperatorRepository, jwtService *auth.JWTService) *AuthHandler {
	return &AuthHandler{
		operatorRepo: operatorRepo,
		jwtService:   jwtService,
	}
}

// Register handles operator registration. The first registered operator
// becomes admin; everyone after that starts as viewer and gets promoted
// out of band.
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.CreateOperatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	role := models.RoleViewer
	admins, err := h.operatorRepo.CountAdmins()
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to create operator")
		return
	}
	if admins == 0 {
		role = models.RoleAdmin
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	op := &models.Operator{
		ID:           uuid.New(),
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		Role:         role,
		PasswordHash: hashedPassword,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := h.operatorRepo.Create(op); err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to create operator")
		return
	}

	token, err := h.jwtService.GenerateToken(op.ID, op.Email, op.Role)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	c.JSON(http.StatusCreated, models.LoginResponse{
		Token:    token,
		Operator: *op,
	})
}

// Login handles operator login
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	op, err := h.operatorRepo.GetByEmail(req.Email)
	if err != nil {
		ErrorResponse(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if err := auth.CheckPassword(op.PasswordHash, req.Password); err != nil {
		ErrorResponse(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.jwtService.GenerateToken(op.ID, op.Email, op.Role)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	c.JSON(http.StatusOK, models.LoginResponse{
		Token:    token,
		Operator: *op,
	})
}

// GetMe returns the current operator
func (h *AuthHandler) GetMe(c *gin.Context) {
	operatorID, _ := c.Get("operator_id")
	oid := operatorID.(uuid.UUID)

	op, err := h.operatorRepo.GetByID(oid)
	if err != nil {
		ErrorResponse(c, http.StatusNotFound, "Operator not found")
		return
	}

	c.JSON(http.StatusOK, op)
}
