package store

import "github.com/google/uuid"

// AddMoment appends a post to the feed and returns it.
func (s *Store) AddMoment(m Moment) Moment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = "moment_" + uuid.NewString()
	}
	if m.TimeMS == 0 {
		m.TimeMS = s.nowMS()
	}
	if m.LikedByChars == nil {
		m.LikedByChars = []string{}
	}
	if m.Comments == nil {
		m.Comments = []Comment{}
	}
	s.state.Moments = append(s.state.Moments, m)
	return m
}

// Moments returns a copy of the feed, oldest first.
func (s *Store) Moments() []Moment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Moment, len(s.state.Moments))
	copy(out, s.state.Moments)
	return out
}

// LastMoments returns up to n of the newest posts, oldest first.
func (s *Store) LastMoments(n int) []Moment {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.state.Moments
	if len(items) > n {
		items = items[len(items)-n:]
	}
	out := make([]Moment, len(items))
	copy(out, items)
	return out
}

// ToggleMomentLikeAsUser flips the user's like on the post at index;
// silent no-op out of range.
func (s *Store) ToggleMomentLikeAsUser(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.state.Moments) {
		return false
	}
	m := &s.state.Moments[index]
	m.LikedByUser = !m.LikedByUser
	return true
}

// ToggleMomentLikeAsChar adds or removes a character like on the post
// at index. Set semantics: a character appears at most once.
func (s *Store) ToggleMomentLikeAsChar(index int, characterID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.state.Moments) {
		return false
	}
	m := &s.state.Moments[index]
	for i, id := range m.LikedByChars {
		if id == characterID {
			m.LikedByChars = append(m.LikedByChars[:i], m.LikedByChars[i+1:]...)
			return true
		}
	}
	m.LikedByChars = append(m.LikedByChars, characterID)
	return true
}

// AddMomentComment appends a comment to the post at index; silent
// no-op out of range.
func (s *Store) AddMomentComment(index int, c Comment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.state.Moments) {
		return false
	}
	if c.TimeMS == 0 {
		c.TimeMS = s.nowMS()
	}
	s.state.Moments[index].Comments = append(s.state.Moments[index].Comments, c)
	return true
}

// MomentFromMessage republishes a conversation message as a feed post
// (the long-press "share to moments" action). The author is the
// message's speaker.
func (s *Store) MomentFromMessage(characterID string, index int) (Moment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.getOrCreateLocked(characterID)
	if index < 0 || index >= len(conv.Messages) {
		return Moment{}, false
	}
	msg := conv.Messages[index]
	authorType := AuthorChar
	authorID := characterID
	if msg.Role == RoleUser {
		authorType = AuthorUser
		authorID = s.state.CurrentUserProfileID
	}
	m := Moment{
		ID:           "moment_" + uuid.NewString(),
		AuthorType:   authorType,
		AuthorID:     authorID,
		Content:      msg.Content,
		TimeMS:       s.nowMS(),
		LikedByChars: []string{},
		Comments:     []Comment{},
	}
	s.state.Moments = append(s.state.Moments, m)
	return m, true
}

// AddDiaryEntry appends a diary entry and returns it.
func (s *Store) AddDiaryEntry(e DiaryEntry) DiaryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = "diary_" + uuid.NewString()
	}
	if e.TimeMS == 0 {
		e.TimeMS = s.nowMS()
	}
	s.state.Diary = append(s.state.Diary, e)
	return e
}

// DiaryEntries returns a copy of the diary, oldest first.
func (s *Store) DiaryEntries() []DiaryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DiaryEntry, len(s.state.Diary))
	copy(out, s.state.Diary)
	return out
}

// LastDiaryEntries returns up to n of the newest entries, oldest first.
func (s *Store) LastDiaryEntries(n int) []DiaryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.state.Diary
	if len(items) > n {
		items = items[len(items)-n:]
	}
	out := make([]DiaryEntry, len(items))
	copy(out, items)
	return out
}

// StatusBoardFor returns a copy of the character's status board,
// creating an empty one on first access.
func (s *Store) StatusBoardFor(characterID string) StatusBoard {
	s.mu.Lock()
	defer s.mu.Unlock()
	board, ok := s.state.StatusBoards[characterID]
	if !ok || board == nil {
		board = &StatusBoard{History: []StatusSnapshot{}}
		s.state.StatusBoards[characterID] = board
	}
	out := StatusBoard{Current: board.Current, History: make([]StatusSnapshot, len(board.History))}
	copy(out.History, board.History)
	return out
}

// SetStatus installs a new current snapshot and appends it to the
// board's history.
func (s *Store) SetStatus(characterID string, snap StatusSnapshot) StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.TimeMS == 0 {
		snap.TimeMS = s.nowMS()
	}
	board, ok := s.state.StatusBoards[characterID]
	if !ok || board == nil {
		board = &StatusBoard{History: []StatusSnapshot{}}
		s.state.StatusBoards[characterID] = board
	}
	board.Current = snap
	board.History = append(board.History, snap)
	return snap
}
