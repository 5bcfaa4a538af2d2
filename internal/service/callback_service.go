package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-proposals/internal/ingest"
	"github.com/noah-isme/course-proposals/internal/models"
	"github.com/noah-isme/course-proposals/pkg/canonical"
	"github.com/noah-isme/course-proposals/pkg/config"
	appErrors "github.com/noah-isme/course-proposals/pkg/errors"
)

type proposalStore interface {
	Create(ctx context.Context, proposal *models.Proposal, scope string) error
	GetByID(ctx context.Context, id string) (*models.Proposal, error)
	SetDeliveryRef(ctx context.Context, id string, ref models.DeliveryRef) (bool, error)
	Transition(ctx context.Context, id string, from []models.ProposalStatus, to models.ProposalStatus, res models.ProposalResolution) (bool, error)
	ListPending(ctx context.Context, now time.Time) ([]models.ProposalSummary, error)
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

type ingester interface {
	Ingest(ctx context.Context, payload []byte, idempotencyKey string) (*ingest.Result, error)
}

type leaseStore interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

const (
	outcomeUnauthorized    = "unauthorized"
	outcomeInvalid         = "invalid"
	outcomeNotFound        = "not_found"
	outcomeAlreadyIngested = "already_ingested"
	outcomeAlreadySkipped  = "already_skipped"
	outcomeInvalidState    = "invalid_state"
	outcomeExpired         = "expired"
	outcomeViewed          = "viewed"
	outcomeIngested        = "ingested"
	outcomeIngestFailed    = "ingest_failed"
	outcomeSkipped         = "skipped"
	outcomeInProgress      = "in_progress"
	outcomeStorageError    = "storage_error"
	outcomeCorrupt         = "corrupt"
)

// CallbackService is the review state machine: it turns one trigger into the
// delivery instructions that answer it.
type CallbackService struct {
	store    proposalStore
	ingester ingester
	leases   leaseStore
	metrics  *MetricsService
	logger   *zap.Logger
	allowed  map[string]struct{}
	leaseTTL time.Duration
	now      func() time.Time
}

// CallbackServiceOption configures the service.
type CallbackServiceOption func(*CallbackService)

// WithCallbackClock overrides the clock used for expiry and receipts.
func WithCallbackClock(now func() time.Time) CallbackServiceOption {
	return func(s *CallbackService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCallbackLeases sets the in-flight ingest lease store.
func WithCallbackLeases(leases leaseStore) CallbackServiceOption {
	return func(s *CallbackService) {
		if leases != nil {
			s.leases = leases
		}
	}
}

// WithCallbackMetrics attaches Prometheus instrumentation.
func WithCallbackMetrics(metrics *MetricsService) CallbackServiceOption {
	return func(s *CallbackService) {
		s.metrics = metrics
	}
}

// NewCallbackService constructs the dispatcher. Only actors listed in cfg.AllowedActors may act.
func NewCallbackService(store proposalStore, ingester ingester, cfg config.ProposalsConfig, logger *zap.Logger, opts ...CallbackServiceOption) *CallbackService {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedActors))
	for _, actor := range cfg.AllowedActors {
		if actor = strings.TrimSpace(actor); actor != "" {
			allowed[actor] = struct{}{}
		}
	}
	leaseTTL := cfg.IngestLease
	if leaseTTL <= 0 {
		leaseTTL = 45 * time.Second
	}
	svc := &CallbackService{
		store:    store,
		ingester: ingester,
		logger:   logger,
		allowed:  allowed,
		leaseTTL: leaseTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Handle answers a trigger. Every outcome is reported as instructions; an
// error is returned only when the stored proposal is corrupt.
func (s *CallbackService) Handle(ctx context.Context, trigger models.Trigger) ([]models.Instruction, error) {
	target := trigger.ConversationRef
	logger := s.logger.With(zap.String("actor_id", trigger.ActorID), zap.String("conversation", target))

	if _, ok := s.allowed[trigger.ActorID]; !ok {
		logger.Warn("rejected trigger from unauthorized actor")
		s.metrics.RecordCallback("", outcomeUnauthorized)
		return reply(target, "❌ Not authorized"), nil
	}

	parsed, ok := ParseCallback(trigger.RawToken)
	if !ok {
		logger.Info("invalid callback token", zap.String("token", trigger.RawToken))
		s.metrics.RecordCallback("", outcomeInvalid)
		return reply(target, "❌ Invalid callback format"), nil
	}

	logger = logger.With(zap.String("proposal_id", parsed.ProposalID), zap.String("action", string(parsed.Action)))
	call := &callback{svc: s, ctx: ctx, target: target, parsed: parsed, logger: logger}

	proposal, instructions := call.load()
	if proposal == nil {
		return instructions, nil
	}
	if instructions, done := call.observe(proposal); done {
		return instructions, nil
	}

	payload, err := call.verify(proposal)
	if err != nil {
		return nil, err
	}

	switch parsed.Action {
	case models.ActionView:
		return call.view(proposal), nil
	case models.ActionIngest:
		return call.ingest(proposal, payload)
	default:
		return call.skip(proposal, payload)
	}
}

// callback carries the per-trigger state through the dispatch steps.
type callback struct {
	svc    *CallbackService
	ctx    context.Context
	target string
	parsed ParsedCallback
	logger *zap.Logger
}

func (c *callback) record(outcome string) {
	c.svc.metrics.RecordCallback(c.parsed.Action, outcome)
}

func (c *callback) text(outcome, text string) []models.Instruction {
	c.record(outcome)
	return reply(c.target, text)
}

func (c *callback) storageFailure(op string, err error) []models.Instruction {
	c.logger.Error("proposal storage failure", zap.String("op", op), zap.Error(err))
	return c.text(outcomeStorageError, fmt.Sprintf("❌ Could not process proposal %s, please try again", c.parsed.ProposalID))
}

// load fetches the proposal; a nil proposal means the returned instructions answer the trigger.
func (c *callback) load() (*models.Proposal, []models.Instruction) {
	proposal, err := c.svc.store.GetByID(c.ctx, c.parsed.ProposalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, c.text(outcomeNotFound, fmt.Sprintf("❌ Proposal %s not found", c.parsed.ProposalID))
		}
		return nil, c.storageFailure("load", err)
	}
	return proposal, nil
}

// observe answers triggers for proposals that can no longer be acted on.
func (c *callback) observe(proposal *models.Proposal) ([]models.Instruction, bool) {
	switch proposal.Status {
	case models.ProposalStatusIngested:
		courseID := derefString(proposal.CourseID)
		if courseID == "" {
			courseID = "N/A"
		}
		return c.text(outcomeAlreadyIngested, fmt.Sprintf("✅ Already ingested\nCourse ID: `%s`", courseID)), true
	case models.ProposalStatusSkipped:
		return c.text(outcomeAlreadySkipped, "⏭️ This proposal was already skipped"), true
	case models.ProposalStatusPending, models.ProposalStatusFailed:
	default:
		return c.text(outcomeInvalidState, fmt.Sprintf("❌ Proposal status: %s", proposal.Status)), true
	}

	if proposal.Status == models.ProposalStatusPending && proposal.ExpiredAt(c.svc.now()) {
		return c.text(outcomeExpired, fmt.Sprintf("❌ Proposal %s has expired", proposal.ID)), true
	}
	return nil, false
}

// verify checks the stored payload still parses and still matches its hash.
func (c *callback) verify(proposal *models.Proposal) (*models.CoursePayload, error) {
	corrupt := func(reason string, err error) error {
		c.logger.Error("stored proposal is corrupt", zap.String("reason", reason), zap.Error(err))
		c.record(outcomeCorrupt)
		return appErrors.Wrap(err, appErrors.ErrStorageCorrupt.Code, appErrors.ErrStorageCorrupt.Status,
			fmt.Sprintf("stored proposal %s is corrupt: %s", proposal.ID, reason))
	}

	hash, err := canonical.Hash(proposal.Payload)
	if err != nil {
		return nil, corrupt("payload is not valid JSON", err)
	}
	if hash != proposal.PayloadHash {
		return nil, corrupt("payload hash mismatch", fmt.Errorf("stored %s, computed %s", proposal.PayloadHash, hash))
	}
	payload, err := models.ParseCoursePayload(proposal.Payload)
	if err != nil {
		return nil, corrupt("payload is not a course document", err)
	}
	return payload, nil
}

func (c *callback) view(proposal *models.Proposal) []models.Instruction {
	c.record(outcomeViewed)
	return []models.Instruction{models.SendFile{
		Target:   c.target,
		Filename: proposal.ID + ".json",
		Bytes:    append([]byte(nil), proposal.Payload...),
		Text:     "📄 JSON for " + orDefault(proposal.CourseName, "Unnamed Course"),
	}}
}

func (c *callback) ingest(proposal *models.Proposal, payload *models.CoursePayload) ([]models.Instruction, error) {
	if c.svc.leases != nil {
		token, acquired, err := c.svc.leases.Acquire(c.ctx, proposal.ID, c.svc.leaseTTL)
		switch {
		case err != nil:
			c.logger.Warn("ingest lease unavailable, relying on conditional transition", zap.Error(err))
		case !acquired:
			c.svc.metrics.RecordLeaseContention()
			return c.text(outcomeInProgress, fmt.Sprintf("⏳ Ingest of %s is already in progress", proposal.ID)), nil
		default:
			defer func() {
				if err := c.svc.leases.Release(context.WithoutCancel(c.ctx), proposal.ID, token); err != nil {
					c.logger.Warn("release ingest lease", zap.Error(err))
				}
			}()
			// A concurrent ingest may have finished between our read and the lease.
			fresh, instructions := c.load()
			if fresh == nil {
				return instructions, nil
			}
			if instructions, done := c.observe(fresh); done {
				return instructions, nil
			}
			proposal = fresh
		}
	}

	start := time.Now()
	result, err := c.svc.ingester.Ingest(c.ctx, proposal.Payload, proposal.PayloadHash)
	c.svc.metrics.ObserveIngest(err == nil, time.Since(start))
	if err != nil {
		return c.ingestFailed(proposal, err), nil
	}

	ingestedAt := c.svc.now().UTC()
	applied, err := c.svc.store.Transition(c.ctx, proposal.ID, models.ActionableStatuses, models.ProposalStatusIngested,
		models.ProposalResolution{IngestedAt: &ingestedAt, CourseID: &result.CourseID, SnapshotID: &result.SnapshotID})
	if err != nil {
		c.logger.Error("ingested but could not record outcome", zap.String("course_id", result.CourseID), zap.Error(err))
		return c.storageFailure("transition ingested", err), nil
	}
	if !applied {
		return c.superseded(), nil
	}

	c.logger.Info("proposal ingested", zap.String("course_id", result.CourseID), zap.String("snapshot_id", result.SnapshotID))
	c.record(outcomeIngested)
	return c.resolved(proposal, payload, ingestedReceipt(ingestedAt, result.CourseID, result.SnapshotID)), nil
}

func (c *callback) ingestFailed(proposal *models.Proposal, cause error) []models.Instruction {
	var (
		statusErr    *ingest.HTTPStatusError
		transportErr *ingest.TransportError
	)
	switch {
	case errors.As(cause, &statusErr):
		c.logger.Warn("ingestion service rejected proposal", zap.Int("status", statusErr.Code), zap.String("body", statusErr.Body))
	case errors.As(cause, &transportErr):
		c.logger.Warn("ingestion service unreachable", zap.Error(transportErr.Cause))
	default:
		c.logger.Warn("ingest failed", zap.Error(cause))
	}

	applied, err := c.svc.store.Transition(c.ctx, proposal.ID, models.ActionableStatuses, models.ProposalStatusFailed, models.ProposalResolution{})
	if err != nil {
		return c.storageFailure("transition failed", err)
	}
	if !applied {
		return c.superseded()
	}
	return c.text(outcomeIngestFailed, fmt.Sprintf("❌ Failed to ingest: %s\n\nYou can try again by tapping Ingest.", cause))
}

func (c *callback) skip(proposal *models.Proposal, payload *models.CoursePayload) ([]models.Instruction, error) {
	applied, err := c.svc.store.Transition(c.ctx, proposal.ID, models.ActionableStatuses, models.ProposalStatusSkipped, models.ProposalResolution{})
	if err != nil {
		return c.storageFailure("transition skipped", err), nil
	}
	if !applied {
		return c.superseded(), nil
	}
	c.logger.Info("proposal skipped")
	c.record(outcomeSkipped)
	return c.resolved(proposal, payload, skippedReceipt()), nil
}

// superseded re-reads a proposal whose transition lost a race and reports its current state.
func (c *callback) superseded() []models.Instruction {
	c.logger.Info("transition superseded by a concurrent trigger")
	current, instructions := c.load()
	if current == nil {
		return instructions
	}
	if instructions, done := c.observe(current); done {
		return instructions
	}
	return c.text(outcomeInvalidState, fmt.Sprintf("❌ Proposal status: %s", current.Status))
}

// resolved builds the presentation edit (when the proposal was presented) and the receipt.
func (c *callback) resolved(proposal *models.Proposal, payload *models.CoursePayload, receipt string) []models.Instruction {
	instructions := make([]models.Instruction, 0, 2)
	if ref := proposal.DeliveryRef(); ref != nil {
		instructions = append(instructions, models.EditMessage{
			Target:           ref.ConversationID,
			MessageRef:       *ref,
			NewText:          annotate(FormatProposalMessage(proposal.ID, payload), receipt),
			ClearAffordances: true,
		})
	}
	return append(instructions, models.SendText{Target: c.target, Text: receipt})
}

func reply(target, text string) []models.Instruction {
	return []models.Instruction{models.SendText{Target: target, Text: text}}
}
