package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/course-proposals/internal/dto"
	"github.com/noah-isme/course-proposals/internal/models"
	appErrors "github.com/noah-isme/course-proposals/pkg/errors"
	"github.com/noah-isme/course-proposals/pkg/response"
)

type callbackService interface {
	Handle(ctx context.Context, trigger models.Trigger) ([]models.Instruction, error)
}

type instructionSink interface {
	Submit(instructions []models.Instruction) error
}

// CallbackHandler accepts reviewer triggers over HTTP.
type CallbackHandler struct {
	service  callbackService
	sink     instructionSink
	validate *validator.Validate
}

// NewCallbackHandler constructs the handler. sink may be nil, in which case
// instructions are only returned to the caller.
func NewCallbackHandler(service callbackService, sink instructionSink, validate *validator.Validate) *CallbackHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &CallbackHandler{service: service, sink: sink, validate: validate}
}

// Handle godoc
// @Summary Dispatch a reviewer callback
// @Description Runs the proposal action named by the token and returns the resulting delivery instructions. With deliver=true the instructions are also queued for the notification channel.
// @Tags Callbacks
// @Accept json
// @Produce json
// @Param deliver query bool false "Queue instructions for delivery"
// @Param payload body dto.CallbackRequest true "Trigger"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /callbacks [post]
func (h *CallbackHandler) Handle(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrServiceNotConfigured, "callback service not configured"))
		return
	}
	var req dto.CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid callback payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "token and actorId are required"))
		return
	}

	instructions, err := h.service.Handle(c.Request.Context(), models.Trigger{
		RawToken:        req.Token,
		ActorID:         req.ActorID,
		ConversationRef: req.ConversationID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if instructions == nil {
		instructions = []models.Instruction{}
	}

	delivered := false
	if c.Query("deliver") == "true" && h.sink != nil {
		if err := h.sink.Submit(instructions); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusServiceUnavailable, "delivery queue unavailable"))
			return
		}
		delivered = true
	}
	response.JSON(c, http.StatusOK, dto.CallbackResponse{Instructions: instructions, Delivered: delivered})
}
