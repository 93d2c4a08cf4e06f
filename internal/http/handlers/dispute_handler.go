package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/gig-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/gig-escrow/internal/http/response"
	"github.com/ignatzorin/gig-escrow/internal/models"
	"github.com/ignatzorin/gig-escrow/internal/service"
)

type DisputeHandler struct {
	svc *service.DisputeService
}

func NewDisputeHandler(s *service.DisputeService) *DisputeHandler {
	return &DisputeHandler{svc: s}
}

type raiseDisputeRequest struct {
	Reason       string   `json:"reason" binding:"required"`
	Description  string   `json:"description"`
	EvidenceURLs []string `json:"evidence_urls"`
}

type respondDisputeRequest struct {
	CounterResponse string   `json:"counter_response" binding:"required"`
	Evidence        []string `json:"evidence_urls"`
}

type resolveDisputeRequest struct {
	Outcome      string  `json:"outcome" binding:"required"`
	SplitPercent *int    `json:"split_percent"`
	Notes        *string `json:"notes"`
}

// disputeView - спор вместе с денежными операциями решения.
type disputeView struct {
	*models.Dispute
	Legs []models.DisputeLeg `json:"legs,omitempty"`
}

// Raise POST /api/projects/:id/dispute
func (h *DisputeHandler) Raise(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}
	projectID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, "некорректный id проекта")
		return
	}

	var req raiseDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "ошибка валидации запроса: "+err.Error())
		return
	}

	dispute, err := h.svc.Raise(c.Request.Context(), projectID, userID, service.RaiseDisputeInput{
		Reason:       req.Reason,
		Description:  req.Description,
		EvidenceURLs: req.EvidenceURLs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dispute)
}

// GetByProject GET /api/projects/:id/dispute
func (h *DisputeHandler) GetByProject(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}
	projectID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, "некорректный id проекта")
		return
	}

	dispute, err := h.svc.GetByProject(c.Request.Context(), projectID, userID, common.IsAdmin(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	legs, err := h.svc.Legs(c.Request.Context(), dispute.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, disputeView{Dispute: dispute, Legs: legs})
}

// ListMine GET /api/disputes
func (h *DisputeHandler) ListMine(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	disputes, err := h.svc.ListForUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, disputes, limit, offset)
}

// Respond POST /api/disputes/:id/respond
func (h *DisputeHandler) Respond(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, "некорректный id спора")
		return
	}

	var req respondDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "ошибка валидации запроса: "+err.Error())
		return
	}

	dispute, err := h.svc.Respond(c.Request.Context(), disputeID, userID, req.CounterResponse, req.Evidence)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dispute)
}

// Resolve POST /api/admin/disputes/:id/resolve
// Частичный сбой операций возвращает 502 вместе с текущим состоянием спора.
func (h *DisputeHandler) Resolve(c *gin.Context) {
	if _, err := common.CurrentUserID(c); err != nil {
		response.Unauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, "некорректный id спора")
		return
	}

	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "ошибка валидации запроса: "+err.Error())
		return
	}

	// Обрыв соединения оператора не прерывает возвраты и выплаты.
	ctx := context.WithoutCancel(c.Request.Context())
	dispute, err := h.svc.Resolve(ctx, disputeID, common.IsAdmin(c), service.ResolveDisputeInput{
		Outcome:      req.Outcome,
		SplitPercent: req.SplitPercent,
		Notes:        req.Notes,
	})
	if dispute == nil {
		if err != nil {
			response.Error(c, err)
		}
		return
	}

	legs, legsErr := h.svc.Legs(ctx, dispute.ID)
	if legsErr != nil {
		legs = nil
	}
	view := disputeView{Dispute: dispute, Legs: legs}
	if err != nil {
		response.ErrorWithData(c, err, view)
		return
	}
	response.Success(c, view)
}
