package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/gig-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/gig-escrow/internal/http/response"
	"github.com/ignatzorin/gig-escrow/internal/service"
)

// GigHandler - публикация срочных заказов, отклики и выбор исполнителя.
type GigHandler struct {
	gigs *service.GigService
}

func NewGigHandler(gigs *service.GigService) *GigHandler {
	return &GigHandler{gigs: gigs}
}

type postGigRequest struct {
	SkillRequired string     `json:"skill_required" binding:"required"`
	Description   string     `json:"description"`
	Amount        string     `json:"amount" binding:"required"`
	Currency      string     `json:"currency"`
	DateNeeded    *time.Time `json:"date_needed"`
	ExpiresAt     time.Time  `json:"expires_at" binding:"required"`
	Preauthorize  bool       `json:"preauthorize"`
}

type respondRequest struct {
	Decision string  `json:"decision" binding:"required"`
	Message  *string `json:"message"`
}

type selectProviderRequest struct {
	ResponseID uuid.UUID `json:"response_id" binding:"required"`
}

// PostGig POST /api/gigs
func (h *GigHandler) PostGig(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	var req postGigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "ошибка валидации запроса: "+err.Error())
		return
	}

	input := service.PostGigInput{
		SkillRequired: req.SkillRequired,
		Description:   req.Description,
		Amount:        req.Amount,
		Currency:      req.Currency,
		ExpiresAt:     req.ExpiresAt,
		Preauthorize:  req.Preauthorize,
	}
	if req.DateNeeded != nil {
		input.DateNeeded = *req.DateNeeded
	}

	gig, err := h.gigs.PostGig(c.Request.Context(), userID, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gig)
}

// GetGig GET /api/gigs/:id
func (h *GigHandler) GetGig(c *gin.Context) {
	if _, err := common.CurrentUserID(c); err != nil {
		response.Unauthorized(c, err.Error())
		return
	}
	gigID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, "некорректный id гига")
		return
	}

	gig, err := h.gigs.GetGig(c.Request.Context(), gigID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gig)
}

// CancelGig POST /api/gigs/:id/cancel
func (h *GigHandler) CancelGig(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}
	gigID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, "некорректный id гига")
		return
	}

	gig, err := h.gigs.CancelGig(c.Request.Context(), gigID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gig)
}

// ListResponses GET /api/gigs/:id/responses
func (h *GigHandler) ListResponses(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}
	gigID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, "некорректный id гига")
		return
	}

	responses, err := h.gigs.ListResponses(c.Request.Context(), gigID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, responses)
}

// Respond POST /api/gigs/:id/responses
func (h *GigHandler) Respond(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}
	gigID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, "некорректный id гига")
		return
	}

	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "ошибка валидации запроса: "+err.Error())
		return
	}

	resp, err := h.gigs.Respond(c.Request.Context(), gigID, userID, req.Decision, req.Message)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

// SelectProvider POST /api/gigs/:id/select
func (h *GigHandler) SelectProvider(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}
	gigID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, "некорректный id гига")
		return
	}

	var req selectProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "ошибка валидации запроса: "+err.Error())
		return
	}

	project, err := h.gigs.SelectProvider(c.Request.Context(), gigID, req.ResponseID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, project)
}
