package service

import (
	"strings"

	"github.com/noah-isme/course-proposals/internal/models"
)

// CallbackMarker prefixes every proposal trigger token.
const CallbackMarker = "proposal"

// ParsedCallback is a trigger token split into its action and proposal id.
type ParsedCallback struct {
	Action     models.CallbackAction
	ProposalID string
}

// ParseCallback splits "<marker>:<action>:<proposal_id>". The id is taken
// verbatim; existence is checked by the dispatcher.
func ParseCallback(token string) (ParsedCallback, bool) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 || parts[0] != CallbackMarker || parts[2] == "" {
		return ParsedCallback{}, false
	}
	action := models.CallbackAction(parts[1])
	switch action {
	case models.ActionIngest, models.ActionView, models.ActionSkip:
	default:
		return ParsedCallback{}, false
	}
	return ParsedCallback{Action: action, ProposalID: parts[2]}, true
}

// CallbackToken builds the token carried by a presentation button.
func CallbackToken(action models.CallbackAction, proposalID string) string {
	return CallbackMarker + ":" + string(action) + ":" + proposalID
}

// Handles reports whether a chat message is addressed to the proposal workflow.
// Malformed tokens still count so they get the parse-error reply.
func Handles(text string) bool {
	return strings.HasPrefix(text, CallbackMarker+":")
}
