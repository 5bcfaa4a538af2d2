package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-proposals/internal/models"
)

const proposalColumns = `proposal_id, payload_json, payload_hash, course_name, city, state, status,
       created_at, expires_at, ingested_at, course_id, snapshot_id, agent_label, run_id,
       delivery_message_id, delivery_conversation_id`

// ProposalRepository persists proposals and their review outcome.
type ProposalRepository struct {
	db *sqlx.DB
}

// NewProposalRepository constructs the repository.
func NewProposalRepository(db *sqlx.DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

// Create allocates the next sequence number for scope (PREFIX-YYYYMMDD),
// assigns the proposal id and inserts the row in one transaction.
func (r *ProposalRepository) Create(ctx context.Context, proposal *models.Proposal, scope string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create proposal: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const nextSeq = `INSERT INTO proposal_sequences (scope, last_seq) VALUES (?, 1)
	ON CONFLICT (scope) DO UPDATE SET last_seq = proposal_sequences.last_seq + 1
	RETURNING last_seq`
	var seq int64
	if err = tx.GetContext(ctx, &seq, tx.Rebind(nextSeq), scope); err != nil {
		return fmt.Errorf("allocate proposal sequence: %w", err)
	}

	proposal.ID = fmt.Sprintf("%s-%03d", scope, seq)
	if proposal.Status == "" {
		proposal.Status = models.ProposalStatusPending
	}
	if proposal.CreatedAt.IsZero() {
		proposal.CreatedAt = time.Now()
	}
	proposal.CreatedAt = proposal.CreatedAt.UTC()
	proposal.ExpiresAt = proposal.ExpiresAt.UTC()

	const insert = `INSERT INTO proposals
	(proposal_id, payload_json, payload_hash, course_name, city, state, status, created_at, expires_at,
	 agent_label, run_id, delivery_message_id, delivery_conversation_id)
	VALUES (:proposal_id, :payload_json, :payload_hash, :course_name, :city, :state, :status, :created_at, :expires_at,
	 :agent_label, :run_id, :delivery_message_id, :delivery_conversation_id)`
	if _, err = tx.NamedExecContext(ctx, insert, proposal); err != nil {
		return fmt.Errorf("create proposal: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create proposal: %w", err)
	}
	return nil
}

// GetByID fetches a proposal. A missing row yields sql.ErrNoRows.
func (r *ProposalRepository) GetByID(ctx context.Context, id string) (*models.Proposal, error) {
	query := r.db.Rebind(`SELECT ` + proposalColumns + ` FROM proposals WHERE proposal_id = ?`)
	var proposal models.Proposal
	if err := r.db.GetContext(ctx, &proposal, query, id); err != nil {
		return nil, err
	}
	return &proposal, nil
}

// SetDeliveryRef records the presentation message while the proposal is unresolved.
// It returns false when the proposal is missing or already resolved.
func (r *ProposalRepository) SetDeliveryRef(ctx context.Context, id string, ref models.DeliveryRef) (bool, error) {
	query, args, err := sqlx.In(`UPDATE proposals SET delivery_message_id = ?, delivery_conversation_id = ?
	WHERE proposal_id = ? AND status IN (?)`, ref.MessageID, ref.ConversationID, id, models.ActionableStatuses)
	if err != nil {
		return false, fmt.Errorf("build delivery ref update: %w", err)
	}
	return r.execAffected(ctx, "set delivery ref", r.db.Rebind(query), args...)
}

// Transition moves a proposal to status `to` only if its current status is in
// `from`. It returns false without error when the guard does not hold, which
// is how concurrent reviewers racing on the same proposal are serialized.
func (r *ProposalRepository) Transition(ctx context.Context, id string, from []models.ProposalStatus, to models.ProposalStatus, res models.ProposalResolution) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition %s: empty from-status set", id)
	}
	query, args, err := sqlx.In(`UPDATE proposals
	SET status = ?,
	    ingested_at = COALESCE(?, ingested_at),
	    course_id = COALESCE(?, course_id),
	    snapshot_id = COALESCE(?, snapshot_id)
	WHERE proposal_id = ? AND status IN (?)`,
		to, res.IngestedAt, res.CourseID, res.SnapshotID, id, from)
	if err != nil {
		return false, fmt.Errorf("build transition: %w", err)
	}
	return r.execAffected(ctx, "transition proposal", r.db.Rebind(query), args...)
}

// ListPending returns live proposals newest first.
func (r *ProposalRepository) ListPending(ctx context.Context, now time.Time) ([]models.ProposalSummary, error) {
	query := r.db.Rebind(`SELECT proposal_id, course_name, city, state, created_at, expires_at, agent_label
	FROM proposals
	WHERE status = ? AND expires_at > ?
	ORDER BY created_at DESC, proposal_id DESC`)
	summaries := make([]models.ProposalSummary, 0)
	if err := r.db.SelectContext(ctx, &summaries, query, models.ProposalStatusPending, now.UTC()); err != nil {
		return nil, fmt.Errorf("list pending proposals: %w", err)
	}
	return summaries, nil
}

// SweepExpired marks pending proposals past their deadline as expired.
func (r *ProposalRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	query := r.db.Rebind(`UPDATE proposals SET status = ? WHERE status = ? AND expires_at < ?`)
	result, err := r.db.ExecContext(ctx, query, models.ProposalStatusExpired, models.ProposalStatusPending, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep expired proposals: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check sweep rows: %w", err)
	}
	return rows, nil
}

func (r *ProposalRepository) execAffected(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check %s rows: %w", op, err)
	}
	return rows > 0, nil
}

// ErrNoRows is re-exported so callers can match missing proposals without importing database/sql.
var ErrNoRows = sql.ErrNoRows
