package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/warden/backend/internal/interpreter"
	"github.com/warden/backend/internal/models"
)

type CommandHandler struct {
	interpreter *interpreter.Interpreter
}

func NewCommandHandler(interp *interpreter.Interpreter) *CommandHandler {
	return &CommandHandler{interpreter: interp}
}

// Execute runs one natural-language operator command. The response
// always states what was understood and what was done; an unmappable
// request comes back as no_action, never as a guessed command.
func (h *CommandHandler) Execute(c *gin.Context) {
	var req models.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	operatorID, _ := c.Get("operator_id")
	operatorEmail, _ := c.Get("operator_email")
	operatorRole, _ := c.Get("operator_role")

	operator := &models.Operator{
		ID:    operatorID.(uuid.UUID),
		Email: operatorEmail.(string),
		Role:  operatorRole.(models.Role),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	resp := h.interpreter.Execute(ctx, operator, req.Text)

	status := http.StatusOK
	if resp.Status == models.StatusError {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, resp)
}
