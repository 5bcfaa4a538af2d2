package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-proposals/internal/dto"
	"github.com/noah-isme/course-proposals/internal/ingest"
	"github.com/noah-isme/course-proposals/internal/models"
	"github.com/noah-isme/course-proposals/internal/repository"
	"github.com/noah-isme/course-proposals/pkg/canonical"
	"github.com/noah-isme/course-proposals/pkg/config"
	appErrors "github.com/noah-isme/course-proposals/pkg/errors"
)

const (
	reviewerID    = "8372254579"
	reviewChannel = "review-chan"
)

type callbackFixture struct {
	store     *proposalStoreStub
	ingester  *ingesterStub
	presenter *presenterStub
	clock     *fixedClock
	proposals *ProposalService
	callbacks *CallbackService
}

func newCallbackFixture(t *testing.T, opts ...CallbackServiceOption) *callbackFixture {
	t.Helper()
	f := &callbackFixture{
		store:     newProposalStoreStub(),
		ingester:  &ingesterStub{result: &ingest.Result{CourseID: "c1", SnapshotID: "s1"}},
		presenter: &presenterStub{},
		clock:     &fixedClock{now: time.Date(2026, 2, 1, 15, 4, 0, 0, time.UTC)},
	}
	cfg := config.ProposalsConfig{TTL: 48 * time.Hour, AllowedActors: []string{reviewerID}, IngestLease: time.Minute}
	f.proposals = NewProposalService(f.store, f.ingester, cfg, config.IngestConfig{}, nil, nil,
		WithPresenter(f.presenter, reviewChannel), WithProposalClock(f.clock.Now))
	f.callbacks = NewCallbackService(f.store, f.ingester, cfg, nil,
		append([]CallbackServiceOption{WithCallbackClock(f.clock.Now), WithCallbackMetrics(NewMetricsService())}, opts...)...)
	return f
}

func (f *callbackFixture) create(t *testing.T) *models.Proposal {
	t.Helper()
	proposal, err := f.proposals.Create(context.Background(), dto.CreateProposalRequest{Payload: json.RawMessage(royalScotPayload), AgentLabel: "scout"})
	require.NoError(t, err)
	return proposal
}

func (f *callbackFixture) handle(t *testing.T, token string) []models.Instruction {
	t.Helper()
	instructions, err := f.callbacks.Handle(context.Background(), models.Trigger{RawToken: token, ActorID: reviewerID, ConversationRef: reviewChannel})
	require.NoError(t, err)
	return instructions
}

func requireSingleText(t *testing.T, instructions []models.Instruction) string {
	t.Helper()
	require.Len(t, instructions, 1)
	text, ok := instructions[0].(models.SendText)
	require.True(t, ok, "expected send_text, got %s", instructions[0].Kind())
	assert.Equal(t, reviewChannel, text.Target)
	return text.Text
}

func TestCallbackEndToEndViewThenIngest(t *testing.T) {
	f := newCallbackFixture(t)
	proposal := f.create(t)
	require.Equal(t, "RS-20260201-001", proposal.ID)

	out := f.handle(t, "proposal:view:RS-20260201-001")
	require.Len(t, out, 1)
	file, ok := out[0].(models.SendFile)
	require.True(t, ok)
	assert.Equal(t, "RS-20260201-001.json", file.Filename)
	assert.Equal(t, royalScotPayload, string(file.Bytes))
	assert.Equal(t, "📄 JSON for Royal Scot Golf Club", file.Text)
	assert.Equal(t, models.ProposalStatusPending, f.store.row(proposal.ID).Status)

	out = f.handle(t, "proposal:ingest:RS-20260201-001")
	assert.Equal(t, "✅ **Ingested** at 03:04PM\nCourse ID: `c1`\nSnapshot: `s1`", requireSingleText(t, out))

	row := f.store.row(proposal.ID)
	assert.Equal(t, models.ProposalStatusIngested, row.Status)
	require.NotNil(t, row.CourseID)
	assert.Equal(t, "c1", *row.CourseID)
	require.NotNil(t, row.SnapshotID)
	assert.Equal(t, "s1", *row.SnapshotID)
	require.NotNil(t, row.IngestedAt)

	expectedHash, err := canonical.Hash([]byte(royalScotPayload))
	require.NoError(t, err)
	assert.Equal(t, []string{expectedHash}, f.ingester.keys)
}

func TestCallbackIngestEditsPresentedMessage(t *testing.T) {
	f := newCallbackFixture(t)
	proposal := f.create(t)
	ref, err := f.proposals.Present(context.Background(), proposal)
	require.NoError(t, err)

	out := f.handle(t, "proposal:ingest:"+proposal.ID)
	require.Len(t, out, 2)

	edit, ok := out[0].(models.EditMessage)
	require.True(t, ok)
	receipt := "✅ **Ingested** at 03:04PM\nCourse ID: `c1`\nSnapshot: `s1`"
	assert.Equal(t, *ref, edit.MessageRef)
	assert.Equal(t, reviewChannel, edit.Target)
	assert.True(t, edit.ClearAffordances)
	assert.Equal(t, f.presenter.text+"\n\n"+receipt, edit.NewText)

	text, ok := out[1].(models.SendText)
	require.True(t, ok)
	assert.Equal(t, receipt, text.Text)
}

func TestCallbackIngestIsIdempotent(t *testing.T) {
	f := newCallbackFixture(t)
	proposal := f.create(t)

	f.handle(t, "proposal:ingest:"+proposal.ID)
	_, mutations := f.store.counts()

	out := f.handle(t, "proposal:ingest:"+proposal.ID)
	assert.Equal(t, "✅ Already ingested\nCourse ID: `c1`", requireSingleText(t, out))
	assert.Equal(t, 1, f.ingester.callCount())
	_, after := f.store.counts()
	assert.Equal(t, mutations, after)
}

func TestCallbackLazyExpiryThenSweep(t *testing.T) {
	f := newCallbackFixture(t)
	proposal := f.create(t)
	f.clock.Advance(49 * time.Hour)
	_, mutations := f.store.counts()

	for _, action := range []string{"ingest", "skip", "view"} {
		out := f.handle(t, "proposal:"+action+":"+proposal.ID)
		assert.Equal(t, "❌ Proposal RS-20260201-001 has expired", requireSingleText(t, out), action)
	}
	_, after := f.store.counts()
	assert.Equal(t, mutations, after)
	assert.Zero(t, f.ingester.callCount())
	assert.Equal(t, models.ProposalStatusPending, f.store.row(proposal.ID).Status)

	expired, err := f.proposals.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)
	assert.Equal(t, models.ProposalStatusExpired, f.store.row(proposal.ID).Status)

	out := f.handle(t, "proposal:ingest:"+proposal.ID)
	assert.Equal(t, "❌ Proposal status: expired", requireSingleText(t, out))
}

func TestCallbackUnauthorizedActorTouchesNothing(t *testing.T) {
	f := newCallbackFixture(t)
	proposal := f.create(t)
	reads, mutations := f.store.counts()

	tokens := []string{
		"proposal:ingest:" + proposal.ID,
		"proposal:skip:" + proposal.ID,
		"proposal:view:RS-20260201-404",
		"invalid:format",
	}
	for _, token := range tokens {
		out, err := f.callbacks.Handle(context.Background(), models.Trigger{RawToken: token, ActorID: "42", ConversationRef: reviewChannel})
		require.NoError(t, err)
		assert.Equal(t, "❌ Not authorized", requireSingleText(t, out), token)
	}

	afterReads, afterMutations := f.store.counts()
	assert.Equal(t, reads, afterReads)
	assert.Equal(t, mutations, afterMutations)
	assert.Zero(t, f.ingester.callCount())
}

func TestCallbackMalformedTokens(t *testing.T) {
	f := newCallbackFixture(t)
	for _, token := range []string{"invalid:format", "proposal:unknown:ID", "proposal:ingest"} {
		out := f.handle(t, token)
		assert.Equal(t, "❌ Invalid callback format", requireSingleText(t, out), token)
	}
	reads, mutations := f.store.counts()
	assert.Zero(t, reads)
	assert.Zero(t, mutations)
}

func TestCallbackUnknownProposal(t *testing.T) {
	f := newCallbackFixture(t)
	out := f.handle(t, "proposal:skip:RS-20260201-404")
	assert.Equal(t, "❌ Proposal RS-20260201-404 not found", requireSingleText(t, out))
}

func TestCallbackIngestFailureIsRetryable(t *testing.T) {
	f := newCallbackFixture(t)
	proposal := f.create(t)

	f.ingester.err = &ingest.HTTPStatusError{Code: 500, Body: "boom"}
	out := f.handle(t, "proposal:ingest:"+proposal.ID)
	assert.Equal(t, "❌ Failed to ingest: HTTP 500 - boom\n\nYou can try again by tapping Ingest.", requireSingleText(t, out))
	assert.Equal(t, models.ProposalStatusFailed, f.store.row(proposal.ID).Status)

	f.ingester.err = &ingest.TransportError{Cause: context.DeadlineExceeded}
	out = f.handle(t, "proposal:ingest:"+proposal.ID)
	assert.Contains(t, requireSingleText(t, out), "context deadline exceeded")
	assert.Equal(t, models.ProposalStatusFailed, f.store.row(proposal.ID).Status)

	f.ingester.err = nil
	out = f.handle(t, "proposal:ingest:"+proposal.ID)
	assert.Contains(t, requireSingleText(t, out), "✅ **Ingested**")
	assert.Equal(t, models.ProposalStatusIngested, f.store.row(proposal.ID).Status)

	key := f.store.row(proposal.ID).PayloadHash
	assert.Equal(t, []string{key, key, key}, f.ingester.keys, "retries reuse the idempotency key")
}

func TestCallbackSkip(t *testing.T) {
	f := newCallbackFixture(t)
	proposal := f.create(t)
	_, err := f.proposals.Present(context.Background(), proposal)
	require.NoError(t, err)

	out := f.handle(t, "proposal:skip:"+proposal.ID)
	require.Len(t, out, 2)
	edit, ok := out[0].(models.EditMessage)
	require.True(t, ok)
	assert.Equal(t, f.presenter.text+"\n\n⏭️ **Skipped**", edit.NewText)
	assert.Equal(t, "⏭️ **Skipped**", out[1].(models.SendText).Text)
	assert.Equal(t, models.ProposalStatusSkipped, f.store.row(proposal.ID).Status)

	for _, action := range []string{"skip", "ingest", "view"} {
		out = f.handle(t, "proposal:"+action+":"+proposal.ID)
		assert.Equal(t, "⏭️ This proposal was already skipped", requireSingleText(t, out))
	}
	assert.Zero(t, f.ingester.callCount())
}

func TestCallbackLostRaceReportsCurrentState(t *testing.T) {
	f := newCallbackFixture(t)
	proposal := f.create(t)

	f.store.beforeTransition = func(row *models.Proposal) {
		if row.Status == models.ProposalStatusPending {
			row.Status = models.ProposalStatusSkipped
		}
	}

	out := f.handle(t, "proposal:ingest:"+proposal.ID)
	assert.Equal(t, "⏭️ This proposal was already skipped", requireSingleText(t, out))
	assert.Equal(t, models.ProposalStatusSkipped, f.store.row(proposal.ID).Status)
	assert.Nil(t, f.store.row(proposal.ID).CourseID)
}

func TestCallbackIngestLeaseHeld(t *testing.T) {
	leases := repository.NewLeaseRepository(nil, nil)
	f := newCallbackFixture(t, WithCallbackLeases(leases))
	proposal := f.create(t)

	token, ok, err := leases.Acquire(context.Background(), proposal.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	out := f.handle(t, "proposal:ingest:"+proposal.ID)
	assert.Equal(t, "⏳ Ingest of RS-20260201-001 is already in progress", requireSingleText(t, out))
	assert.Zero(t, f.ingester.callCount())

	require.NoError(t, leases.Release(context.Background(), proposal.ID, token))
	out = f.handle(t, "proposal:ingest:"+proposal.ID)
	assert.Contains(t, requireSingleText(t, out), "✅ **Ingested**")

	_, ok, err = leases.Acquire(context.Background(), proposal.ID, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "the dispatcher releases its lease")
}

func TestCallbackCorruptPayloadFailsLoudly(t *testing.T) {
	f := newCallbackFixture(t)
	proposal := f.create(t)
	f.store.rows[proposal.ID].PayloadHash = "0000"

	_, err := f.callbacks.Handle(context.Background(), models.Trigger{RawToken: "proposal:ingest:" + proposal.ID, ActorID: reviewerID, ConversationRef: reviewChannel})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrStorageCorrupt))
	assert.Zero(t, f.ingester.callCount())
	assert.Equal(t, models.ProposalStatusPending, f.store.row(proposal.ID).Status)
}

func TestCallbackStorageFailure(t *testing.T) {
	f := newCallbackFixture(t)
	f.store.getErr = errors.New("disk I/O error")

	out := f.handle(t, "proposal:view:RS-20260201-001")
	assert.Equal(t, "❌ Could not process proposal RS-20260201-001, please try again", requireSingleText(t, out))
}

func TestCallbackFailedProposalCanBeSkipped(t *testing.T) {
	f := newCallbackFixture(t)
	proposal := f.create(t)
	f.ingester.err = &ingest.TransportError{Cause: errors.New("connection refused")}
	f.handle(t, "proposal:ingest:"+proposal.ID)

	out := f.handle(t, "proposal:skip:"+proposal.ID)
	assert.Equal(t, "⏭️ **Skipped**", requireSingleText(t, out))
	assert.Equal(t, models.ProposalStatusSkipped, f.store.row(proposal.ID).Status)
}
