package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-proposals/internal/dto"
	"github.com/noah-isme/course-proposals/internal/models"
	"github.com/noah-isme/course-proposals/pkg/canonical"
	"github.com/noah-isme/course-proposals/pkg/config"
	appErrors "github.com/noah-isme/course-proposals/pkg/errors"
)

const (
	defaultAgentLabel = "unknown"
	defaultPrefix     = "CO"
)

// Presenter delivers a proposal with its review controls and returns the message handle.
type Presenter interface {
	Present(ctx context.Context, target, text string, affordances []models.Affordance) (*models.DeliveryRef, error)
}

// ProposalService stores generated proposals and puts them in front of reviewers.
type ProposalService struct {
	store        proposalStore
	ingester     ingester
	presenter    Presenter
	reviewTarget string
	validator    *validator.Validate
	metrics      *MetricsService
	logger       *zap.Logger
	ttl          time.Duration
	autoIngest   bool
	now          func() time.Time
}

// ProposalServiceOption configures the service.
type ProposalServiceOption func(*ProposalService)

// WithPresenter sets the channel proposals are presented on and the conversation to use.
func WithPresenter(presenter Presenter, target string) ProposalServiceOption {
	return func(s *ProposalService) {
		s.presenter = presenter
		s.reviewTarget = target
	}
}

// WithProposalClock overrides the clock used for ids and expiry.
func WithProposalClock(now func() time.Time) ProposalServiceOption {
	return func(s *ProposalService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithProposalMetrics attaches Prometheus instrumentation.
func WithProposalMetrics(metrics *MetricsService) ProposalServiceOption {
	return func(s *ProposalService) {
		s.metrics = metrics
	}
}

// NewProposalService constructs the service.
func NewProposalService(store proposalStore, ingester ingester, proposals config.ProposalsConfig, ingestCfg config.IngestConfig, validate *validator.Validate, logger *zap.Logger, opts ...ProposalServiceOption) *ProposalService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := proposals.TTL
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	svc := &ProposalService{
		store:      store,
		ingester:   ingester,
		validator:  validate,
		logger:     logger,
		ttl:        ttl,
		autoIngest: ingestCfg.AutoIngest,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// ProposalPrefix derives the two-letter id prefix from a course id such as
// "course_royal_scot" (RS). Courses without an id use CO.
func ProposalPrefix(courseID string) string {
	if courseID == "" {
		return defaultPrefix
	}
	initials := make([]rune, 0, 2)
	for _, part := range strings.Split(strings.ReplaceAll(courseID, "course_", ""), "_") {
		if len(initials) == 2 {
			break
		}
		if part == "" {
			continue
		}
		first, _ := utf8.DecodeRuneInString(part)
		initials = append(initials, unicode.ToUpper(first))
	}
	if len(initials) == 0 {
		return defaultPrefix
	}
	return string(initials)
}

// Create validates and stores a proposal, assigning its id and review deadline.
func (s *ProposalService) Create(ctx context.Context, req dto.CreateProposalRequest) (*models.Proposal, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if !bytes.HasPrefix(bytes.TrimSpace(req.Payload), []byte("{")) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payload must be a JSON object")
	}
	payload, err := models.ParseCoursePayload(req.Payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "payload must be a course document")
	}
	hash, err := canonical.Hash(req.Payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "payload is not valid JSON")
	}

	now := s.now().UTC()
	agentLabel := strings.TrimSpace(req.AgentLabel)
	if agentLabel == "" {
		agentLabel = defaultAgentLabel
	}
	runID := req.RunID
	if runID == nil || strings.TrimSpace(*runID) == "" {
		generated := uuid.NewString()
		runID = &generated
	}

	proposal := &models.Proposal{
		Payload:     models.Document(append([]byte(nil), req.Payload...)),
		PayloadHash: hash,
		CourseName:  payload.Course.Name,
		City:        payload.Course.City,
		State:       payload.Course.State,
		Status:      models.ProposalStatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
		AgentLabel:  agentLabel,
		RunID:       runID,
	}
	scope := fmt.Sprintf("%s-%s", ProposalPrefix(payload.Course.ID), now.Format("20060102"))
	if err := s.store.Create(ctx, proposal, scope); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to create proposal")
	}

	s.metrics.RecordProposalCreated()
	s.logger.Info("proposal created",
		zap.String("proposal_id", proposal.ID),
		zap.String("payload_hash", proposal.PayloadHash),
		zap.String("agent_label", proposal.AgentLabel),
		zap.Time("expires_at", proposal.ExpiresAt),
	)
	return proposal, nil
}

// Submit creates a proposal and then either ingests it straight away (auto-ingest)
// or presents it for review. A failed auto-ingest falls back to review.
func (s *ProposalService) Submit(ctx context.Context, req dto.CreateProposalRequest) (*dto.SubmitProposalResponse, error) {
	proposal, err := s.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := &dto.SubmitProposalResponse{Proposal: proposal}

	if s.autoIngest {
		ingestErr := s.autoIngestProposal(ctx, proposal)
		if ingestErr == nil {
			resp.AutoIngested = true
			return resp, nil
		}
		resp.IngestError = ingestErr.Error()
	}

	if req.Present && s.presenter != nil {
		ref, err := s.Present(ctx, proposal)
		if err != nil {
			s.logger.Warn("present proposal", zap.String("proposal_id", proposal.ID), zap.Error(err))
			return resp, nil
		}
		resp.Presented = true
		resp.DeliveryRef = ref
	}
	return resp, nil
}

// autoIngestProposal runs the confirm-free path. It records the outcome on the
// stored row so the review flow sees an already-ingested or failed proposal.
func (s *ProposalService) autoIngestProposal(ctx context.Context, proposal *models.Proposal) error {
	logger := s.logger.With(zap.String("proposal_id", proposal.ID))

	start := time.Now()
	result, err := s.ingester.Ingest(ctx, proposal.Payload, proposal.PayloadHash)
	s.metrics.ObserveIngest(err == nil, time.Since(start))
	if err != nil {
		logger.Warn("auto-ingest failed", zap.Error(err))
		if _, terr := s.store.Transition(ctx, proposal.ID, []models.ProposalStatus{models.ProposalStatusPending}, models.ProposalStatusFailed, models.ProposalResolution{}); terr != nil {
			logger.Error("record auto-ingest failure", zap.Error(terr))
		} else {
			proposal.Status = models.ProposalStatusFailed
		}
		return err
	}

	ingestedAt := s.now().UTC()
	res := models.ProposalResolution{IngestedAt: &ingestedAt, CourseID: &result.CourseID, SnapshotID: &result.SnapshotID}
	if _, err := s.store.Transition(ctx, proposal.ID, []models.ProposalStatus{models.ProposalStatusPending}, models.ProposalStatusIngested, res); err != nil {
		logger.Error("auto-ingested but could not record outcome", zap.String("course_id", result.CourseID), zap.Error(err))
		return nil
	}
	proposal.Status = models.ProposalStatusIngested
	proposal.IngestedAt = res.IngestedAt
	proposal.CourseID = res.CourseID
	proposal.SnapshotID = res.SnapshotID
	logger.Info("proposal auto-ingested", zap.String("course_id", result.CourseID))
	return nil
}

// Present sends the proposal with Ingest / View JSON / Skip controls and records the delivery ref.
func (s *ProposalService) Present(ctx context.Context, proposal *models.Proposal) (*models.DeliveryRef, error) {
	if s.presenter == nil || s.reviewTarget == "" {
		return nil, appErrors.Clone(appErrors.ErrServiceNotConfigured, "no review channel configured")
	}
	payload, err := models.ParseCoursePayload(proposal.Payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorageCorrupt.Code, appErrors.ErrStorageCorrupt.Status, "stored payload is not a course document")
	}

	affordances := []models.Affordance{
		{Label: "✅ Ingest", Token: CallbackToken(models.ActionIngest, proposal.ID)},
		{Label: "📄 View JSON", Token: CallbackToken(models.ActionView, proposal.ID)},
		{Label: "⏭️ Skip", Token: CallbackToken(models.ActionSkip, proposal.ID)},
	}
	ref, err := s.presenter.Present(ctx, s.reviewTarget, FormatProposalMessage(proposal.ID, payload), affordances)
	if err != nil {
		return nil, fmt.Errorf("present proposal %s: %w", proposal.ID, err)
	}
	if err := s.SetDeliveryRef(ctx, proposal.ID, *ref); err != nil {
		return nil, err
	}
	proposal.MessageID = &ref.MessageID
	proposal.ChatID = &ref.ConversationID
	return ref, nil
}

// SetDeliveryRef records where an unresolved proposal was presented.
func (s *ProposalService) SetDeliveryRef(ctx context.Context, id string, ref models.DeliveryRef) error {
	if ref.MessageID == "" || ref.ConversationID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "messageId and conversationId are required")
	}
	updated, err := s.store.SetDeliveryRef(ctx, id, ref)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to record delivery ref")
	}
	if updated {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return appErrors.Clone(appErrors.ErrInvalidState, "proposal is already resolved")
}

// Get loads a proposal by id.
func (s *ProposalService) Get(ctx context.Context, id string) (*models.Proposal, error) {
	proposal, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("proposal %s not found", id))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load proposal")
	}
	return proposal, nil
}

// ListPending returns live proposals, newest first.
func (s *ProposalService) ListPending(ctx context.Context) ([]models.ProposalSummary, error) {
	summaries, err := s.store.ListPending(ctx, s.now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to list proposals")
	}
	return summaries, nil
}

// Sweep expires pending proposals whose review window has closed.
func (s *ProposalService) Sweep(ctx context.Context) (int64, error) {
	expired, err := s.store.SweepExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to sweep proposals")
	}
	s.metrics.RecordSweep(expired)
	if expired > 0 {
		s.logger.Info("expired stale proposals", zap.Int64("count", expired))
	}
	return expired, nil
}
