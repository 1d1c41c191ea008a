package api

import (
	"context"
	"log"
	"net/http"

	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/internal/account"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/middleware"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/models"

	"github.com/gin-gonic/gin"
)

// AdminRole may delete any account; other callers only their own.
const AdminRole = "admin"

// TherapistRole is the role listed by GET /therapists.
const TherapistRole = "therapist"

// UserService is the account operations the handlers need.
type UserService interface {
	Register(ctx context.Context, in account.RegisterInput) (*models.User, bool, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.User, error)
	ListByRole(ctx context.Context, role string) ([]models.User, error)
	DeleteAccount(ctx context.Context, externalID, reason string) error
}

// UserHandler handles user-related HTTP requests.
type UserHandler struct {
	Users UserService
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users UserService) *UserHandler {
	return &UserHandler{Users: users}
}

// Register godoc
// @Summary      Register or refresh a user
// @Description  Creates the user on first call for an externalId, otherwise overwrites the profile. Roles replace the stored set when present.
// @Tags         users
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      models.RegisterRequest  true  "Register request"
// @Success      200      {object}  models.RegisterResponse
// @Success      201      {object}  models.RegisterResponse
// @Failure      400      {object}  map[string]string
// @Failure      403      {object}  map[string]string
// @Failure      500      {object}  map[string]string
// @Router       /register [post]
func (h *UserHandler) Register(c *gin.Context) {
	correlationID := middleware.GetCorrelationID(c)

	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Printf("[API] Register external_id=%s correlation_id=%s", req.ExternalID, correlationID)

	if !authorizeAccount(c, req.ExternalID) {
		return
	}

	user, created, err := h.Users.Register(c.Request.Context(), account.RegisterInput{
		ExternalID: req.ExternalID,
		Username:   req.Username,
		Email:      req.Email,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Roles:      req.Roles,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, models.RegisterResponse{User: *user, Message: "User registered successfully"})
}

// GetUser godoc
// @Summary      Get a user by external ID
// @Description  Returns a single user
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Param        externalId  path      string  true  "Identity provider user ID"
// @Success      200         {object}  models.User
// @Failure      404         {object}  map[string]string
// @Router       /users/{externalId} [get]
func (h *UserHandler) GetUser(c *gin.Context) {
	user, err := h.Users.GetByExternalID(c.Request.Context(), c.Param("externalId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// ListUsers godoc
// @Summary      List users by role
// @Description  Returns every user carrying the given role, oldest first
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Param        role  query     string  true  "Role name"
// @Success      200   {array}   models.User
// @Failure      400   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /users [get]
func (h *UserHandler) ListUsers(c *gin.Context) {
	h.listByRole(c, c.Query("role"))
}

// ListTherapists godoc
// @Summary      List therapists
// @Description  Returns every user with the therapist role
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Success      200  {array}   models.User
// @Failure      500  {object}  map[string]string
// @Router       /therapists [get]
func (h *UserHandler) ListTherapists(c *gin.Context) {
	h.listByRole(c, TherapistRole)
}

func (h *UserHandler) listByRole(c *gin.Context, role string) {
	users, err := h.Users.ListByRole(c.Request.Context(), role)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// DeleteUser godoc
// @Summary      Delete a user account
// @Description  Publishes account.deleted, deletes the user from Keycloak, then deletes the local profile. A failure names the stage that failed.
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Param        externalId  path      string  true   "Identity provider user ID"
// @Param        reason      query     string  false  "Deletion reason"  default(User requested)
// @Success      200         {object}  map[string]string
// @Failure      403         {object}  map[string]string
// @Failure      404         {object}  map[string]string
// @Failure      409         {object}  map[string]string
// @Failure      500         {object}  map[string]interface{}
// @Router       /users/{externalId} [delete]
func (h *UserHandler) DeleteUser(c *gin.Context) {
	correlationID := middleware.GetCorrelationID(c)
	externalID := c.Param("externalId")
	reason := c.DefaultQuery("reason", account.DefaultDeletionReason)

	if !authorizeAccount(c, externalID) {
		return
	}

	log.Printf("[API] DeleteUser external_id=%s reason=%q correlation_id=%s", externalID, reason, correlationID)

	if err := h.Users.DeleteAccount(c.Request.Context(), externalID, reason); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "User account deleted successfully from all systems"})
}

// authorizeAccount lets a caller act on its own account, and admins on any.
// Without verified claims (auth disabled) every call passes. On refusal it
// writes 403 and returns false.
func authorizeAccount(c *gin.Context, externalID string) bool {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		return true
	}
	if claims.Subject() == externalID || claims.HasRole(AdminRole) {
		return true
	}
	log.Printf("[API] Forbidden: %s %s subject=%s external_id=%s correlation_id=%s",
		c.Request.Method, c.FullPath(), claims.Subject(), externalID, middleware.GetCorrelationID(c))
	c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to modify this account"})
	return false
}
