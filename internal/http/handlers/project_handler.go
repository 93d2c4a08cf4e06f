package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/gig-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/gig-escrow/internal/http/response"
	"github.com/ignatzorin/gig-escrow/internal/service"
)

// ProjectHandler - оплата, завершение и журнал денег по проекту.
type ProjectHandler struct {
	projects *service.ProjectService
	escrow   *service.EscrowService
	payouts  *service.PayoutService
	ledger   *service.LedgerService
}

func NewProjectHandler(projects *service.ProjectService, escrow *service.EscrowService, payouts *service.PayoutService, ledger *service.LedgerService) *ProjectHandler {
	return &ProjectHandler{
		projects: projects,
		escrow:   escrow,
		payouts:  payouts,
		ledger:   ledger,
	}
}

// ListMine GET /api/projects/my
func (h *ProjectHandler) ListMine(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	projects, err := h.projects.ListMine(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, projects, limit, offset)
}

// Get GET /api/projects/:id
func (h *ProjectHandler) Get(c *gin.Context) {
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

	project, err := h.projects.Get(c.Request.Context(), projectID, userID, common.IsAdmin(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, project)
}

// StartPayment POST /api/projects/:id/payment
func (h *ProjectHandler) StartPayment(c *gin.Context) {
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

	session, err := h.escrow.StartPayment(c.Request.Context(), projectID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, session)
}

// Capture POST /api/projects/:id/capture
func (h *ProjectHandler) Capture(c *gin.Context) {
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

	project, err := h.escrow.Capture(c.Request.Context(), projectID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, project)
}

// Complete POST /api/projects/:id/complete
// Выплата подтверждается только вебхуком, поэтому ответ, 202.
func (h *ProjectHandler) Complete(c *gin.Context) {
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

	payout, err := h.projects.ConfirmCompletion(c.Request.Context(), projectID, userID)
	if err != nil {
		if payout != nil {
			response.ErrorWithData(c, err, payout)
			return
		}
		response.Error(c, err)
		return
	}
	response.Accepted(c, payout)
}

// Payouts GET /api/projects/:id/payouts
func (h *ProjectHandler) Payouts(c *gin.Context) {
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

	records, err := h.payouts.ListByProject(c.Request.Context(), projectID, userID, common.IsAdmin(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, records)
}

// Ledger GET /api/projects/:id/ledger
func (h *ProjectHandler) Ledger(c *gin.Context) {
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

	entries, err := h.ledger.List(c.Request.Context(), projectID, userID, common.IsAdmin(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, entries)
}
