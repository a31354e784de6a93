package core

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// FieldError carries a per-field validation message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// respondError sends the unified error payload {"error": "..."}.
func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// respondValidationError sends a 400 with field-level details.
func respondValidationError(c *gin.Context, details []FieldError) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": details})
}
