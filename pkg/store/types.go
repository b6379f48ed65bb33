package store

// Role values persisted into conversation logs. Other roles (system)
// exist only transiently during prompt construction and are never
// written to a conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Author types for moments and diary entries.
const (
	AuthorUser = "user"
	AuthorChar = "char"
)

// Character is an AI persona the user chats with.
type Character struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Signature   string `json:"signature,omitempty"`
	Tags        string `json:"tags,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	Persona     string `json:"persona,omitempty"`
	StylePrompt string `json:"style_prompt,omitempty"`
	WorldBookID string `json:"world_book_id,omitempty"`

	// Per-character API overrides; empty/nil falls back to globals.
	BaseURL     string   `json:"base_url,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`

	CreatedAtMS int64 `json:"created_at_ms"`
}

// UserProfile is the identity the user chats as.
type UserProfile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar,omitempty"`
	Persona     string `json:"persona,omitempty"`
	CreatedAtMS int64  `json:"created_at_ms"`
}

// WorldBook is a reusable block of setting/rule text. Characters hold
// a weak reference by id; deleting a book never touches characters.
type WorldBook struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Content     string `json:"content"`
	CreatedAtMS int64  `json:"created_at_ms"`
}

// Message is one conversation turn.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
	TimeMS  int64  `json:"time_ms"`
	Starred bool   `json:"starred,omitempty"`
}

// Conversation is the ordered message log for one character.
type Conversation struct {
	Messages []Message `json:"messages"`
	Unread   int       `json:"unread"`
}

// Comment is one reply under a moment.
type Comment struct {
	FromType string `json:"from_type"`
	FromID   string `json:"from_id"`
	Content  string `json:"content"`
	TimeMS   int64  `json:"time_ms"`
}

// Moment is a social-feed post.
type Moment struct {
	ID           string    `json:"id"`
	AuthorType   string    `json:"author_type"`
	AuthorID     string    `json:"author_id"`
	Content      string    `json:"content"`
	TimeMS       int64     `json:"time_ms"`
	LikedByUser  bool      `json:"liked_by_user"`
	LikedByChars []string  `json:"liked_by_chars"`
	Comments     []Comment `json:"comments"`
}

// DiaryEntry is a diary post.
type DiaryEntry struct {
	ID         string `json:"id"`
	AuthorType string `json:"author_type"`
	AuthorID   string `json:"author_id"`
	Content    string `json:"content"`
	TimeMS     int64  `json:"time_ms"`
}

// StatusSnapshot is one observation on a character's status board.
type StatusSnapshot struct {
	TimeMS   int64  `json:"time_ms"`
	Favor    string `json:"favor"`
	Thoughts string `json:"thoughts"`
	Outfit   string `json:"outfit"`
	Action   string `json:"action"`
}

// StatusBoard holds the current snapshot plus an append-only history.
// It has a lifecycle independent from the conversation.
type StatusBoard struct {
	Current StatusSnapshot   `json:"current"`
	History []StatusSnapshot `json:"history"`
}

// MemoryState is the single process-wide rolling summary. The source
// keeps one global summary rather than one per character; that
// behavior is preserved.
type MemoryState struct {
	Summary          string `json:"summary"`
	SinceLastSummary int    `json:"since_last_summary"`
}

// Scene is a chat-mode preset carried into the system prompt.
type Scene struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// State is the whole persisted document.
type State struct {
	Characters   []Character   `json:"characters"`
	UserProfiles []UserProfile `json:"user_profiles"`
	WorldBooks   []WorldBook   `json:"world_books"`

	Conversations map[string]*Conversation `json:"conversations"`
	Moments       []Moment                 `json:"moments"`
	Diary         []DiaryEntry             `json:"diary"`
	StatusBoards  map[string]*StatusBoard  `json:"status_boards"`

	Memory MemoryState `json:"memory"`

	CurrentCharID        string `json:"current_char_id,omitempty"`
	CurrentUserProfileID string `json:"current_user_profile_id,omitempty"`
	CurrentSceneKey      string `json:"current_scene_key,omitempty"`

	// Auto-generation watermarks: conversation length at the last
	// automatic moment/diary generation.
	LastAutoMomentMsgCount int `json:"last_auto_moment_msg_count"`
	LastAutoDiaryMsgCount  int `json:"last_auto_diary_msg_count"`
}

// ScenePresets are the built-in chat modes.
func ScenePresets() []Scene {
	return []Scene{
		{Key: "default", Name: "默认模式", Prompt: ""},
		{
			Key:  "study",
			Name: "学习模式：一起学习/写作业",
			Prompt: "当前场景是【学习模式】。请更专注、更条理清晰地解释知识、讲步骤、给示例，" +
				"像一位耐心的学习伙伴，避免太多无关卖萌。",
		},
		{
			Key:  "love",
			Name: "恋爱模式：甜甜恋人",
			Prompt: "当前场景是【恋爱模式】。请在保证真诚和尊重的前提下，用更亲昵、温柔、关心对方感受的语气聊天，" +
				"像一位贴心的恋人，但不要越界到现实中不合适的言行。",
		},
		{
			Key:  "work",
			Name: "工作模式：同事/搭子",
			Prompt: "当前场景是【工作模式】。请更偏向任务协作、效率和清晰结论，说话像靠谱的同事或合伙人，" +
				"可以适度幽默但不要太撒娇。",
		},
	}
}

// SceneByKey returns the preset for key, falling back to the default
// scene for unknown keys.
func SceneByKey(key string) Scene {
	presets := ScenePresets()
	for _, s := range presets {
		if s.Key == key {
			return s
		}
	}
	return presets[0]
}
