package usecase

import (
	"presenter-ai/internal/domain"
)

// Conversation owns one agent's transcript and accumulated token cost. The
// transcript always starts with the system message; cost only ever grows.
type Conversation struct {
	messages []domain.Message
	cost     domain.Cost
}

// NewConversation starts a transcript with the system prompt.
func NewConversation(system string) *Conversation {
	return &Conversation{
		messages: []domain.Message{domain.NewMessage(domain.RoleSystem, system)},
	}
}

// Append adds a message to the transcript.
func (c *Conversation) Append(msg domain.Message) {
	c.messages = append(c.messages, msg)
}

// Messages returns the transcript for a model call. Callers must not mutate
// the returned slice.
func (c *Conversation) Messages() []domain.Message {
	return c.messages
}

// OnlySystem reports whether the first user turn has not happened yet.
func (c *Conversation) OnlySystem() bool {
	return len(c.messages) == 1 && c.messages[0].Role == domain.RoleSystem
}

// AddUsage accumulates one completion's token usage.
func (c *Conversation) AddUsage(u domain.Usage) {
	c.cost.Add(u)
}

// Cost returns the accumulated token cost.
func (c *Conversation) Cost() domain.Cost {
	return c.cost
}

// Len returns the transcript length.
func (c *Conversation) Len() int {
	return len(c.messages)
}
