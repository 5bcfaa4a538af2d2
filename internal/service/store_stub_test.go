package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/course-proposals/internal/ingest"
	"github.com/noah-isme/course-proposals/internal/models"
)

type proposalStoreStub struct {
	mu        sync.Mutex
	rows      map[string]*models.Proposal
	seq       map[string]int
	reads     int
	mutations int
	getErr    error

	// beforeTransition runs under the lock ahead of the guard check, to stage races.
	beforeTransition func(row *models.Proposal)
}

func newProposalStoreStub() *proposalStoreStub {
	return &proposalStoreStub{rows: make(map[string]*models.Proposal), seq: make(map[string]int)}
}

func (s *proposalStoreStub) Create(_ context.Context, proposal *models.Proposal, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[scope]++
	proposal.ID = fmt.Sprintf("%s-%03d", scope, s.seq[scope])
	row := *proposal
	s.rows[proposal.ID] = &row
	s.mutations++
	return nil
}

func (s *proposalStoreStub) GetByID(_ context.Context, id string) (*models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.getErr != nil {
		return nil, s.getErr
	}
	row, ok := s.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *row
	return &clone, nil
}

func (s *proposalStoreStub) SetDeliveryRef(_ context.Context, id string, ref models.DeliveryRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || !row.Status.Actionable() {
		return false, nil
	}
	messageID, conversationID := ref.MessageID, ref.ConversationID
	row.MessageID = &messageID
	row.ChatID = &conversationID
	s.mutations++
	return true, nil
}

func (s *proposalStoreStub) Transition(_ context.Context, id string, from []models.ProposalStatus, to models.ProposalStatus, res models.ProposalResolution) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return false, nil
	}
	if s.beforeTransition != nil {
		s.beforeTransition(row)
	}
	allowed := false
	for _, status := range from {
		if row.Status == status {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	row.Status = to
	if res.IngestedAt != nil {
		row.IngestedAt = res.IngestedAt
	}
	if res.CourseID != nil {
		row.CourseID = res.CourseID
	}
	if res.SnapshotID != nil {
		row.SnapshotID = res.SnapshotID
	}
	s.mutations++
	return true, nil
}

func (s *proposalStoreStub) ListPending(_ context.Context, now time.Time) ([]models.ProposalSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summaries := make([]models.ProposalSummary, 0)
	for _, row := range s.rows {
		if row.Status != models.ProposalStatusPending || !row.ExpiresAt.After(now) {
			continue
		}
		summaries = append(summaries, models.ProposalSummary{
			ID:         row.ID,
			CourseName: row.CourseName,
			City:       row.City,
			State:      row.State,
			CreatedAt:  row.CreatedAt,
			ExpiresAt:  row.ExpiresAt,
			AgentLabel: row.AgentLabel,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID > summaries[j].ID
		}
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

func (s *proposalStoreStub) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, row := range s.rows {
		if row.Status == models.ProposalStatusPending && row.ExpiresAt.Before(now) {
			row.Status = models.ProposalStatusExpired
			count++
		}
	}
	if count > 0 {
		s.mutations++
	}
	return count, nil
}

func (s *proposalStoreStub) row(id string) *models.Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.rows[id]
	return &cp
}

func (s *proposalStoreStub) counts() (reads, mutations int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.mutations
}

type ingesterStub struct {
	mu     sync.Mutex
	calls  int
	keys   []string
	result *ingest.Result
	err    error
}

func (i *ingesterStub) Ingest(_ context.Context, _ []byte, key string) (*ingest.Result, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls++
	i.keys = append(i.keys, key)
	if i.err != nil {
		return nil, i.err
	}
	return i.result, nil
}

func (i *ingesterStub) callCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls
}

type presenterStub struct {
	calls       int
	target      string
	text        string
	affordances []models.Affordance
	err         error
}

func (p *presenterStub) Present(_ context.Context, target, text string, affordances []models.Affordance) (*models.DeliveryRef, error) {
	p.calls++
	p.target, p.text, p.affordances = target, text, affordances
	if p.err != nil {
		return nil, p.err
	}
	return &models.DeliveryRef{MessageID: fmt.Sprintf("msg-%d", p.calls), ConversationID: target}, nil
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
