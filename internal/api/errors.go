package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/internal/account"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// writeError maps service errors onto HTTP responses.
func writeError(c *gin.Context, err error) {
	correlationID := middleware.GetCorrelationID(c)

	var derr *account.DeletionError
	switch {
	case errors.As(err, &derr):
		// The cause can carry identity provider response bodies; it stays in the log.
		log.Printf("[API] Deletion failed: stage=%s external_id=%s err=%v correlation_id=%s",
			derr.Stage, derr.ExternalID, err, correlationID)
		body := gin.H{
			"error": "failed to delete user account",
			"stage": derr.Stage,
		}
		if derr.Inconsistent() {
			body["inconsistent"] = true
		}
		c.JSON(http.StatusInternalServerError, body)
	case errors.Is(err, account.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, account.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, account.ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("[API] Internal error: %v correlation_id=%s", err, correlationID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
