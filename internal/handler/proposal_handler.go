package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-proposals/internal/dto"
	"github.com/noah-isme/course-proposals/internal/models"
	appErrors "github.com/noah-isme/course-proposals/pkg/errors"
	"github.com/noah-isme/course-proposals/pkg/response"
)

type proposalService interface {
	Submit(ctx context.Context, req dto.CreateProposalRequest) (*dto.SubmitProposalResponse, error)
	Get(ctx context.Context, id string) (*models.Proposal, error)
	ListPending(ctx context.Context) ([]models.ProposalSummary, error)
	SetDeliveryRef(ctx context.Context, id string, ref models.DeliveryRef) error
	Sweep(ctx context.Context) (int64, error)
}

// ProposalHandler exposes the proposal lifecycle endpoints.
type ProposalHandler struct {
	service proposalService
}

// NewProposalHandler constructs the handler.
func NewProposalHandler(service proposalService) *ProposalHandler {
	return &ProposalHandler{service: service}
}

// Create godoc
// @Summary Submit a course proposal
// @Tags Proposals
// @Accept json
// @Produce json
// @Param payload body dto.CreateProposalRequest true "Proposal"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /proposals [post]
func (h *ProposalHandler) Create(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrServiceNotConfigured, "proposal service not configured"))
		return
	}
	var req dto.CreateProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid proposal payload"))
		return
	}
	result, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// List godoc
// @Summary List pending proposals
// @Description Proposals still awaiting review that have not expired, newest first.
// @Tags Proposals
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /proposals [get]
func (h *ProposalHandler) List(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrServiceNotConfigured, "proposal service not configured"))
		return
	}
	summaries, err := h.service.ListPending(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summaries, map[string]interface{}{"count": len(summaries)})
}

// Get godoc
// @Summary Get a proposal
// @Tags Proposals
// @Produce json
// @Param id path string true "Proposal ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /proposals/{id} [get]
func (h *ProposalHandler) Get(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrServiceNotConfigured, "proposal service not configured"))
		return
	}
	proposal, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, proposal)
}

// SetDeliveryRef godoc
// @Summary Record where a proposal was presented
// @Tags Proposals
// @Accept json
// @Param id path string true "Proposal ID"
// @Param payload body dto.DeliveryRefRequest true "Delivered message"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /proposals/{id}/delivery-ref [put]
func (h *ProposalHandler) SetDeliveryRef(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrServiceNotConfigured, "proposal service not configured"))
		return
	}
	var req dto.DeliveryRefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid delivery reference"))
		return
	}
	ref := models.DeliveryRef{MessageID: req.MessageID, ConversationID: req.ConversationID}
	if err := h.service.SetDeliveryRef(c.Request.Context(), c.Param("id"), ref); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Sweep godoc
// @Summary Expire stale pending proposals
// @Tags Proposals
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /proposals/sweep [post]
func (h *ProposalHandler) Sweep(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrServiceNotConfigured, "proposal service not configured"))
		return
	}
	expired, err := h.service.Sweep(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.SweepResponse{Expired: expired})
}
