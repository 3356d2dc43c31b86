package realtime

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one prior exchange item. Turns are read and forwarded,
// never modified.
type ConversationTurn struct {
	Role     Role
	Text     string
	AudioURL string
	At       time.Time
}

// BuildHistoryEvents emits one conversation.item.create per turn, in order.
// Turns whose text is empty or whitespace are skipped.
func BuildHistoryEvents(turns []ConversationTurn) []*ClientEvent {
	return buildHistoryEvents(DefaultSessionConfig(), turns)
}

func buildHistoryEvents(cfg SessionConfig, turns []ConversationTurn) []*ClientEvent {
	events := make([]*ClientEvent, 0, len(turns))
	for _, turn := range turns {
		if strings.TrimSpace(turn.Text) == "" {
			continue
		}
		events = append(events, newClientEvent(ClientEventTypeConversationItemCreate, &ClientEventParamConversationItemCreate{
			Role:        turn.Role,
			ContentType: cfg.contentType(turn.Role),
			Text:        turn.Text,
		}))
	}
	return events
}
