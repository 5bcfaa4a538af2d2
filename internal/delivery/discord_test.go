package delivery

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-proposals/internal/models"
	"github.com/noah-isme/course-proposals/internal/service"
)

type fakeSession struct {
	sends   []*discordgo.MessageSend
	targets []string
	edits   []*discordgo.MessageEdit
	err     error
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.sends = append(f.sends, data)
	f.targets = append(f.targets, channelID)
	if f.err != nil {
		return nil, f.err
	}
	return &discordgo.Message{ID: "msg-42", ChannelID: channelID}, nil
}

func (f *fakeSession) ChannelMessageEditComplex(m *discordgo.MessageEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.edits = append(f.edits, m)
	if f.err != nil {
		return nil, f.err
	}
	return &discordgo.Message{ID: m.ID, ChannelID: m.Channel}, nil
}

func TestDiscordChannelPresent(t *testing.T) {
	session := &fakeSession{}
	channel := NewDiscordChannel(session)
	affordances := []models.Affordance{
		{Label: "✅ Ingest", Token: service.CallbackToken(models.ActionIngest, "RS-20260201-001")},
		{Label: "📄 View JSON", Token: service.CallbackToken(models.ActionView, "RS-20260201-001")},
		{Label: "⏭️ Skip", Token: service.CallbackToken(models.ActionSkip, "RS-20260201-001")},
	}

	ref, err := channel.Present(context.Background(), "review-chan", "proposal text", affordances)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryRef{MessageID: "msg-42", ConversationID: "review-chan"}, *ref)

	require.Len(t, session.sends, 1)
	sent := session.sends[0]
	assert.Equal(t, "proposal text", sent.Content)
	require.Len(t, sent.Components, 1)
	row, ok := sent.Components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	require.Len(t, row.Components, 3)

	ingest := row.Components[0].(discordgo.Button)
	assert.Equal(t, "proposal:ingest:RS-20260201-001", ingest.CustomID)
	assert.Equal(t, discordgo.SuccessButton, ingest.Style)
	assert.Equal(t, discordgo.SecondaryButton, row.Components[1].(discordgo.Button).Style)
	assert.Equal(t, discordgo.DangerButton, row.Components[2].(discordgo.Button).Style)
}

func TestDiscordChannelSendFile(t *testing.T) {
	session := &fakeSession{}
	require.NoError(t, NewDiscordChannel(session).SendFile(context.Background(), "review-chan", "RS-1.json", []byte(`{"x":1}`), "📄 JSON for X"))

	require.Len(t, session.sends, 1)
	sent := session.sends[0]
	assert.Equal(t, "📄 JSON for X", sent.Content)
	require.Len(t, sent.Files, 1)
	assert.Equal(t, "RS-1.json", sent.Files[0].Name)
	body, err := io.ReadAll(sent.Files[0].Reader)
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(body))
}

func TestDiscordChannelEdit(t *testing.T) {
	session := &fakeSession{}
	channel := NewDiscordChannel(session)
	ref := models.DeliveryRef{MessageID: "m1", ConversationID: "c1"}

	require.NoError(t, channel.Edit(context.Background(), ref, "annotated", true))
	require.NoError(t, channel.Edit(context.Background(), ref, "annotated again", false))

	require.Len(t, session.edits, 2)
	cleared := session.edits[0]
	assert.Equal(t, "m1", cleared.ID)
	assert.Equal(t, "c1", cleared.Channel)
	assert.Equal(t, "annotated", *cleared.Content)
	require.NotNil(t, cleared.Components)
	assert.Empty(t, *cleared.Components)
	assert.Nil(t, session.edits[1].Components)
}

func TestDiscordChannelErrors(t *testing.T) {
	session := &fakeSession{err: errors.New("403 missing access")}
	channel := NewDiscordChannel(session)

	assert.ErrorContains(t, channel.SendText(context.Background(), "c1", "hi"), "missing access")
	_, err := channel.Present(context.Background(), "c1", "hi", nil)
	assert.Error(t, err)
}
