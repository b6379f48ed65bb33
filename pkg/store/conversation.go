package store

import "github.com/google/uuid"

// getOrCreateLocked returns the conversation for a character, creating
// an empty one on first contact. Callers hold s.mu.
func (s *Store) getOrCreateLocked(characterID string) *Conversation {
	conv, ok := s.state.Conversations[characterID]
	if !ok || conv == nil {
		conv = &Conversation{Messages: []Message{}}
		s.state.Conversations[characterID] = conv
	}
	return conv
}

// Append adds a message with the current timestamp to the character's
// conversation and returns it. Assistant messages landing on a
// conversation that is not focused bump its unread counter. Append
// never performs I/O.
func (s *Store) Append(characterID, role, content string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.getOrCreateLocked(characterID)
	msg := Message{
		ID:      uuid.NewString(),
		Role:    role,
		Content: content,
		TimeMS:  s.nowMS(),
	}
	conv.Messages = append(conv.Messages, msg)
	if role == RoleAssistant && characterID != s.state.CurrentCharID {
		conv.Unread++
	}
	return msg
}

// UnreadCount returns the conversation's unread assistant messages.
func (s *Store) UnreadCount(characterID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(characterID).Unread
}

// Messages returns a copy of the character's message log.
func (s *Store) Messages(characterID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.getOrCreateLocked(characterID)
	out := make([]Message, len(conv.Messages))
	copy(out, conv.Messages)
	return out
}

// MessageCount returns the conversation length.
func (s *Store) MessageCount(characterID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.getOrCreateLocked(characterID).Messages)
}

// MessageAt returns the message at index; ok is false out of range.
func (s *Store) MessageAt(characterID string, index int) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.getOrCreateLocked(characterID)
	if index < 0 || index >= len(conv.Messages) {
		return Message{}, false
	}
	return conv.Messages[index], true
}

// ReplaceContent swaps the content of the message at index in place,
// refreshing its timestamp. Used to turn the thinking placeholder into
// the real reply without shifting later indices. Out-of-range is a
// silent no-op.
func (s *Store) ReplaceContent(characterID string, index int, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.getOrCreateLocked(characterID)
	if index < 0 || index >= len(conv.Messages) {
		return false
	}
	conv.Messages[index].Content = content
	conv.Messages[index].TimeMS = s.nowMS()
	return true
}

// TruncateAfterLastAssistant removes the most recent assistant message
// and everything after it, supporting retry. Returns false, leaving
// the log untouched, when no assistant message exists.
func (s *Store) TruncateAfterLastAssistant(characterID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.getOrCreateLocked(characterID)
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Role == RoleAssistant {
			conv.Messages = conv.Messages[:i]
			return true
		}
	}
	return false
}

// DeleteMessage removes the message at index. Out-of-range indices are
// a tolerated no-op, not an error.
func (s *Store) DeleteMessage(characterID string, index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.getOrCreateLocked(characterID)
	if index < 0 || index >= len(conv.Messages) {
		return false
	}
	conv.Messages = append(conv.Messages[:index], conv.Messages[index+1:]...)
	return true
}

// ToggleStar flips the starred flag on the message at index; silent
// no-op out of range.
func (s *Store) ToggleStar(characterID string, index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.getOrCreateLocked(characterID)
	if index < 0 || index >= len(conv.Messages) {
		return false
	}
	conv.Messages[index].Starred = !conv.Messages[index].Starred
	return true
}

// LastUserMessage walks backward to the latest user-role message.
func (s *Store) LastUserMessage(characterID string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.getOrCreateLocked(characterID)
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Role == RoleUser {
			return conv.Messages[i], true
		}
	}
	return Message{}, false
}
