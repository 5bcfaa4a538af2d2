package models

import "encoding/json"

// InstructionKind tags the delivery instruction variants.
type InstructionKind string

const (
	InstructionSendText InstructionKind = "send_text"
	InstructionSendFile InstructionKind = "send_file"
	InstructionEdit     InstructionKind = "edit"
)

// Instruction is a delivery step for the notification channel. The set of
// implementations is closed: SendText, SendFile and EditMessage.
type Instruction interface {
	Kind() InstructionKind
	instruction()
}

// SendText posts a plain text message to a conversation.
type SendText struct {
	Target string
	Text   string
}

// SendFile posts a file, optionally with an accompanying caption.
type SendFile struct {
	Target   string
	Filename string
	Bytes    []byte
	Text     string
}

// EditMessage rewrites a previously delivered message in place.
type EditMessage struct {
	Target           string
	MessageRef       DeliveryRef
	NewText          string
	ClearAffordances bool
}

func (SendText) Kind() InstructionKind    { return InstructionSendText }
func (SendFile) Kind() InstructionKind    { return InstructionSendFile }
func (EditMessage) Kind() InstructionKind { return InstructionEdit }

func (SendText) instruction()    {}
func (SendFile) instruction()    {}
func (EditMessage) instruction() {}

// MarshalJSON emits the tagged wire shape.
func (i SendText) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind   InstructionKind `json:"kind"`
		Target string          `json:"target"`
		Text   string          `json:"text"`
	}{i.Kind(), i.Target, i.Text})
}

// MarshalJSON emits the tagged wire shape; bytes are base64 encoded.
func (i SendFile) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind     InstructionKind `json:"kind"`
		Target   string          `json:"target"`
		Filename string          `json:"filename"`
		Bytes    []byte          `json:"bytes"`
		Text     string          `json:"text,omitempty"`
	}{i.Kind(), i.Target, i.Filename, i.Bytes, i.Text})
}

// MarshalJSON emits the tagged wire shape.
func (i EditMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind             InstructionKind `json:"kind"`
		Target           string          `json:"target"`
		MessageRef       DeliveryRef     `json:"message_ref"`
		NewText          string          `json:"new_text"`
		ClearAffordances bool            `json:"clear_affordances"`
	}{i.Kind(), i.Target, i.MessageRef, i.NewText, i.ClearAffordances})
}

// CallbackAction is a reviewer action carried by a trigger token.
type CallbackAction string

const (
	ActionIngest CallbackAction = "ingest"
	ActionView   CallbackAction = "view"
	ActionSkip   CallbackAction = "skip"
)

// Trigger is an inbound reviewer action as received from the channel.
type Trigger struct {
	RawToken        string
	ActorID         string
	ConversationRef string
}

// Affordance is an interactive control attached to a presented proposal.
type Affordance struct {
	Label string `json:"label"`
	Token string `json:"token"`
}
