package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ExportVersion is the envelope version written by Export.
const ExportVersion = 1

// Store owns the whole in-memory state tree and its persistence.
// Every component receives the store explicitly; there is no ambient
// singleton. All access goes through the store's mutex, which is the
// Go rendition of the source's single-threaded cooperative model.
type Store struct {
	mu    sync.Mutex
	path  string
	state *State

	nowMS func() int64
}

// New creates a store persisting to path. The state starts empty;
// call Load to pick up a previous session.
func New(path string) *Store {
	s := &Store{
		path:  path,
		state: &State{},
		nowMS: func() int64 { return time.Now().UnixMilli() },
	}
	s.state.normalize()
	return s
}

// SetClock overrides the timestamp source. Test hook.
func (s *Store) SetClock(nowMS func() int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowMS = nowMS
}

// normalize repairs optional fields so the rest of the code never has
// to lazily patch records (the load-time invariant replacing the
// source's ensureMomentStructure-style patching).
func (st *State) normalize() {
	if st.Conversations == nil {
		st.Conversations = map[string]*Conversation{}
	}
	for id, conv := range st.Conversations {
		if conv == nil {
			st.Conversations[id] = &Conversation{Messages: []Message{}}
			continue
		}
		if conv.Messages == nil {
			conv.Messages = []Message{}
		}
	}
	if st.StatusBoards == nil {
		st.StatusBoards = map[string]*StatusBoard{}
	}
	for id, board := range st.StatusBoards {
		if board == nil {
			st.StatusBoards[id] = &StatusBoard{History: []StatusSnapshot{}}
			continue
		}
		if board.History == nil {
			board.History = []StatusSnapshot{}
		}
	}
	for i := range st.Moments {
		m := &st.Moments[i]
		if m.AuthorType == "" {
			m.AuthorType = AuthorChar
		}
		if m.LikedByChars == nil {
			m.LikedByChars = []string{}
		}
		if m.Comments == nil {
			m.Comments = []Comment{}
		}
	}
	for i := range st.Diary {
		if st.Diary[i].AuthorType == "" {
			st.Diary[i].AuthorType = AuthorChar
		}
	}
}

// Load reads the state document from disk. A missing file leaves the
// store empty, which is a valid first-run state.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state %s: %w", s.path, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse state %s: %w", s.path, err)
	}
	st.normalize()
	s.state = &st
	return nil
}

// Save persists the state as one JSON document via temp-file rename,
// so duplicate calls are harmless and a failed write never leaves a
// half-written file behind. In-memory state is untouched on failure.
func (s *Store) Save() error {
	s.mu.Lock()
	data, err := json.MarshalIndent(s.state, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

type envelope struct {
	Version    int             `json:"version"`
	ExportedAt string          `json:"exportedAt"`
	Data       json.RawMessage `json:"data"`
}

// Export serializes the full state wrapped in a versioned envelope.
func (s *Store) Export() ([]byte, error) {
	s.mu.Lock()
	data, err := json.Marshal(s.state)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	out, err := json.MarshalIndent(envelope{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Data:       data,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export envelope: %w", err)
	}
	return out, nil
}

// Import replaces the whole state from either a bare state document or
// a versioned export envelope. The caller is responsible for user
// confirmation; import here is unconditional and total.
func (s *Store) Import(data []byte) error {
	var env envelope
	raw := data
	if err := json.Unmarshal(data, &env); err == nil && env.Version != 0 && len(env.Data) > 0 {
		if env.Version != ExportVersion {
			return fmt.Errorf("unsupported export version %d", env.Version)
		}
		raw = env.Data
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("parse imported state: %w", err)
	}
	st.normalize()

	s.mu.Lock()
	s.state = &st
	s.mu.Unlock()
	return nil
}

// Snapshot returns a deep copy of the current state document.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(s.state)
	if err != nil {
		return State{}
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}
	}
	st.normalize()
	return st
}

// --- characters / profiles / world books ---

// AddCharacter registers a new persona.
func (s *Store) AddCharacter(c Character) Character {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreatedAtMS == 0 {
		c.CreatedAtMS = s.nowMS()
	}
	s.state.Characters = append(s.state.Characters, c)
	return c
}

// UpdateCharacter replaces the stored character with the same id.
func (s *Store) UpdateCharacter(c Character) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Characters {
		if s.state.Characters[i].ID == c.ID {
			s.state.Characters[i] = c
			return true
		}
	}
	return false
}

// DeleteCharacter removes the persona from the index. The character's
// conversation, moments and diary entries stay; their author reference
// resolves to a fallback identity from now on.
func (s *Store) DeleteCharacter(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Characters {
		if s.state.Characters[i].ID == id {
			s.state.Characters = append(s.state.Characters[:i], s.state.Characters[i+1:]...)
			if s.state.CurrentCharID == id {
				s.state.CurrentCharID = ""
			}
			return true
		}
	}
	return false
}

// CharacterByID looks up a persona; ok is false for unknown ids.
func (s *Store) CharacterByID(id string) (Character, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.state.Characters {
		if c.ID == id {
			return c, true
		}
	}
	return Character{}, false
}

// Characters returns a copy of the persona index.
func (s *Store) Characters() []Character {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Character, len(s.state.Characters))
	copy(out, s.state.Characters)
	return out
}

// AddUserProfile registers a user identity.
func (s *Store) AddUserProfile(p UserProfile) UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAtMS == 0 {
		p.CreatedAtMS = s.nowMS()
	}
	s.state.UserProfiles = append(s.state.UserProfiles, p)
	return p
}

// UserProfileByID looks up a profile by id.
func (s *Store) UserProfileByID(id string) (UserProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.state.UserProfiles {
		if p.ID == id {
			return p, true
		}
	}
	return UserProfile{}, false
}

// AddWorldBook registers a world book.
func (s *Store) AddWorldBook(b WorldBook) WorldBook {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.CreatedAtMS == 0 {
		b.CreatedAtMS = s.nowMS()
	}
	s.state.WorldBooks = append(s.state.WorldBooks, b)
	return b
}

// WorldBookByID looks up a world book; weak references resolve through
// here, so a dangling id simply returns ok=false.
func (s *Store) WorldBookByID(id string) (WorldBook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.state.WorldBooks {
		if b.ID == id {
			return b, true
		}
	}
	return WorldBook{}, false
}

// DeleteWorldBook drops a world book. Characters referencing it keep
// their id; lookups just stop resolving.
func (s *Store) DeleteWorldBook(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.WorldBooks {
		if s.state.WorldBooks[i].ID == id {
			s.state.WorldBooks = append(s.state.WorldBooks[:i], s.state.WorldBooks[i+1:]...)
			return true
		}
	}
	return false
}

// ResolveAuthorName maps an author reference to a display name,
// falling back to a generic identity when the record is gone.
func (s *Store) ResolveAuthorName(authorType, authorID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if authorType == AuthorUser {
		for _, p := range s.state.UserProfiles {
			if p.ID == authorID {
				return p.Name
			}
		}
		return "我"
	}
	for _, c := range s.state.Characters {
		if c.ID == authorID {
			return c.Name
		}
	}
	return "好友"
}

// --- selection state ---

// CurrentCharID returns the character the UI is focused on.
func (s *Store) CurrentCharID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentCharID
}

// SetCurrentCharID switches the focused character and clears the
// newly focused conversation's unread counter.
func (s *Store) SetCurrentCharID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CurrentCharID = id
	if conv, ok := s.state.Conversations[id]; ok && conv != nil {
		conv.Unread = 0
	}
}

// CurrentUserProfileID returns the active user identity id.
func (s *Store) CurrentUserProfileID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentUserProfileID
}

// SetCurrentUserProfileID switches the active user identity.
func (s *Store) SetCurrentUserProfileID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CurrentUserProfileID = id
}

// CurrentScene returns the active scene preset.
func (s *Store) CurrentScene() Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SceneByKey(s.state.CurrentSceneKey)
}

// SetCurrentSceneKey switches the chat scene.
func (s *Store) SetCurrentSceneKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CurrentSceneKey = key
}

// --- memory state ---

// Memory returns the rolling summary state.
func (s *Store) Memory() MemoryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Memory
}

// IncrementMemoryCounter bumps the messages-since-summary counter by
// exactly one and returns the new value. Called once per committed
// assistant reply, regardless of segment count.
func (s *Store) IncrementMemoryCounter() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Memory.SinceLastSummary++
	return s.state.Memory.SinceLastSummary
}

// ReplaceMemorySummary installs a new summary and resets the counter.
// Only called on summarization success; failures leave both fields
// untouched.
func (s *Store) ReplaceMemorySummary(summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Memory.Summary = summary
	s.state.Memory.SinceLastSummary = 0
}

// --- auto-generation watermarks ---

// AutoMomentWatermark returns the conversation length at the last
// automatic moment generation.
func (s *Store) AutoMomentWatermark() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastAutoMomentMsgCount
}

// SetAutoMomentWatermark records the watermark. Set before the
// generation call settles to block re-entrant duplicate firing.
func (s *Store) SetAutoMomentWatermark(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastAutoMomentMsgCount = n
}

// AutoDiaryWatermark returns the diary auto-generation watermark.
func (s *Store) AutoDiaryWatermark() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastAutoDiaryMsgCount
}

// SetAutoDiaryWatermark records the diary watermark.
func (s *Store) SetAutoDiaryWatermark(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastAutoDiaryMsgCount = n
}
