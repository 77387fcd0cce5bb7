package agent

import "line-chat-relay/internal/domain"

// Memory is the ordered message buffer an agent reads its context from. It is
// built per invocation and never persisted.
type Memory struct {
	messages []domain.ChatMessage
}

// NewMemory returns a buffer seeded with the persona as its only entry.
func NewMemory(persona string) *Memory {
	return &Memory{
		messages: []domain.ChatMessage{{Role: string(domain.RoleSystem), Content: persona}},
	}
}

func (m *Memory) AddUserMessage(content string) {
	m.messages = append(m.messages, domain.ChatMessage{Role: string(domain.RoleUser), Content: content})
}

func (m *Memory) AddAIMessage(content string) {
	m.messages = append(m.messages, domain.ChatMessage{Role: string(domain.RoleAssistant), Content: content})
}

// Messages returns a copy of the buffer.
func (m *Memory) Messages() []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *Memory) Len() int {
	return len(m.messages)
}
