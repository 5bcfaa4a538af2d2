package delivery

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/noah-isme/course-proposals/internal/models"
	"github.com/noah-isme/course-proposals/internal/service"
)

type discordSession interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordChannel carries instructions and proposal presentations over a Discord bot session.
type DiscordChannel struct {
	session discordSession
}

// NewDiscordChannel wraps a bot session.
func NewDiscordChannel(session discordSession) *DiscordChannel {
	return &DiscordChannel{session: session}
}

// SendText posts a plain message.
func (d *DiscordChannel) SendText(ctx context.Context, target, text string) error {
	if _, err := d.session.ChannelMessageSendComplex(target, &discordgo.MessageSend{Content: text}, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send to %s: %w", target, err)
	}
	return nil
}

// SendFile uploads data as an attachment with an optional caption.
func (d *DiscordChannel) SendFile(ctx context.Context, target, filename string, data []byte, caption string) error {
	msg := &discordgo.MessageSend{
		Content: caption,
		Files: []*discordgo.File{{
			Name:        filename,
			ContentType: "application/json",
			Reader:      bytes.NewReader(data),
		}},
	}
	if _, err := d.session.ChannelMessageSendComplex(target, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord upload %s to %s: %w", filename, target, err)
	}
	return nil
}

// Edit rewrites a delivered message, optionally removing its buttons.
func (d *DiscordChannel) Edit(ctx context.Context, ref models.DeliveryRef, text string, clearAffordances bool) error {
	edit := &discordgo.MessageEdit{
		ID:      ref.MessageID,
		Channel: ref.ConversationID,
		Content: &text,
	}
	if clearAffordances {
		empty := []discordgo.MessageComponent{}
		edit.Components = &empty
	}
	if _, err := d.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord edit %s in %s: %w", ref.MessageID, ref.ConversationID, err)
	}
	return nil
}

// Present posts a proposal with one button per affordance and returns the message handle.
func (d *DiscordChannel) Present(ctx context.Context, target, text string, affordances []models.Affordance) (*models.DeliveryRef, error) {
	msg := &discordgo.MessageSend{Content: text}
	if len(affordances) > 0 {
		buttons := make([]discordgo.MessageComponent, 0, len(affordances))
		for _, affordance := range affordances {
			buttons = append(buttons, discordgo.Button{
				Label:    affordance.Label,
				Style:    buttonStyle(affordance.Token),
				CustomID: affordance.Token,
			})
		}
		msg.Components = []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
	}

	sent, err := d.session.ChannelMessageSendComplex(target, msg, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord present to %s: %w", target, err)
	}
	channelID := sent.ChannelID
	if channelID == "" {
		channelID = target
	}
	return &models.DeliveryRef{MessageID: sent.ID, ConversationID: channelID}, nil
}

func buttonStyle(token string) discordgo.ButtonStyle {
	parsed, ok := service.ParseCallback(token)
	if !ok {
		return discordgo.SecondaryButton
	}
	switch parsed.Action {
	case models.ActionIngest:
		return discordgo.SuccessButton
	case models.ActionSkip:
		return discordgo.DangerButton
	default:
		return discordgo.SecondaryButton
	}
}
