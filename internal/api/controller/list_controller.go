package controller

import (
	"strconv"

	"ctchen222/otaku-list/internal/api/middleware"
	"ctchen222/otaku-list/internal/api/models"
	"ctchen222/otaku-list/internal/api/response"
	"ctchen222/otaku-list/internal/api/service"
	"ctchen222/otaku-list/internal/apperror"
	"ctchen222/otaku-list/internal/validator"

	"github.com/gin-gonic/gin"
)

// ListController handles watch list HTTP requests.
type ListController struct {
	listService service.ListService
}

// NewListController creates a new ListController.
func NewListController(listService service.ListService) *ListController {
	return &ListController{listService: listService}
}

// Upsert adds an anime to the caller's list or updates the existing entry.
// Responds 201 when the entry was created and 200 when it was updated.
func (lc *ListController) Upsert(c *gin.Context) {
	var req models.UpsertListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.InvalidInput("malformed list entry"))
		return
	}
	if err := validator.Struct(&req); err != nil {
		response.Error(c, err)
		return
	}

	user := middleware.CurrentUser(c)
	if req.UserID != nil && *req.UserID != user.ID {
		response.Error(c, apperror.Forbidden("cannot modify another user's list"))
		return
	}

	result, err := lc.listService.Upsert(c.Request.Context(), user.ID, string(req.ItemID), models.ListFields{
		Title:    req.Title,
		ImageRef: req.Image,
		Status:   req.Status,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	if result.Created {
		response.CreatedResponse(c, result)
		return
	}
	response.SuccessResponse(c, result)
}

// List returns the entries of the user named by the :userId parameter. The
// route is guarded by RequireOwner.
func (lc *ListController) List(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		response.Error(c, apperror.InvalidInput("userId must be an integer"))
		return
	}

	entries, err := lc.listService.ListForUser(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessResponseList(c, entries)
}
