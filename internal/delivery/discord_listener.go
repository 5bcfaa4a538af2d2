package delivery

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/noah-isme/course-proposals/internal/models"
	"github.com/noah-isme/course-proposals/internal/service"
)

const triggerTimeout = 45 * time.Second

type triggerHandler interface {
	Handle(ctx context.Context, trigger models.Trigger) ([]models.Instruction, error)
}

type instructionSink interface {
	Submit(instructions []models.Instruction) error
}

// DiscordListener turns review button presses and "proposal:" chat messages
// into dispatcher triggers and queues the resulting instructions.
type DiscordListener struct {
	callbacks triggerHandler
	sink      instructionSink
	logger    *zap.Logger
}

// NewDiscordListener builds a listener.
func NewDiscordListener(callbacks triggerHandler, sink instructionSink, logger *zap.Logger) *DiscordListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscordListener{callbacks: callbacks, sink: sink, logger: logger}
}

// Register attaches the listener's handlers to a session.
func (l *DiscordListener) Register(session *discordgo.Session) {
	session.AddHandler(l.onInteraction)
	session.AddHandler(l.onMessage)
}

func (l *DiscordListener) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	trigger, ok := componentTrigger(i)
	if !ok {
		return
	}
	// Acknowledge right away; the answer arrives as channel messages.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		l.logger.Warn("acknowledge interaction", zap.Error(err))
	}
	l.dispatch(trigger)
}

func (l *DiscordListener) onMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	trigger, ok := messageTrigger(m)
	if !ok {
		return
	}
	l.dispatch(trigger)
}

func (l *DiscordListener) dispatch(trigger models.Trigger) {
	ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
	defer cancel()

	instructions, err := l.callbacks.Handle(ctx, trigger)
	if err != nil {
		l.logger.Error("trigger failed",
			zap.String("token", trigger.RawToken),
			zap.String("actor_id", trigger.ActorID),
			zap.Error(err),
		)
		return
	}
	if err := l.sink.Submit(instructions); err != nil {
		l.logger.Error("queue delivery", zap.String("token", trigger.RawToken), zap.Error(err))
	}
}

func componentTrigger(i *discordgo.InteractionCreate) (models.Trigger, bool) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return models.Trigger{}, false
	}
	token := i.MessageComponentData().CustomID
	if !service.Handles(token) {
		return models.Trigger{}, false
	}
	return models.Trigger{RawToken: token, ActorID: interactionActor(i.Interaction), ConversationRef: i.ChannelID}, true
}

func messageTrigger(m *discordgo.MessageCreate) (models.Trigger, bool) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return models.Trigger{}, false
	}
	if !service.Handles(m.Content) {
		return models.Trigger{}, false
	}
	return models.Trigger{RawToken: m.Content, ActorID: m.Author.ID, ConversationRef: m.ChannelID}, true
}

// interactionActor returns the pressing user for guild and direct-message interactions alike.
func interactionActor(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
