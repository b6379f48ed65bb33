package chat

import (
	"strings"

	"github.com/minetta-labs/palmchat/pkg/config"
)

// Intent is the classification of one user message.
type Intent struct {
	EndConversation bool
	WantsDiary      bool
	WantsMoment     bool
}

// Classifier detects conversational signals by plain substring match.
// The keyword lists come from configuration; matching is deterministic
// and stateless, which the auto-trigger tests rely on.
type Classifier struct {
	endWords    []string
	diaryWords  []string
	momentWords []string
}

// NewClassifier builds a classifier from the configured keyword lists.
func NewClassifier(cfg config.IntentsConfig) *Classifier {
	return &Classifier{
		endWords:    cfg.EndWords,
		diaryWords:  cfg.DiaryWords,
		momentWords: cfg.MomentWords,
	}
}

// Classify inspects text for end-of-conversation, diary and moment
// signals. Empty or whitespace-only text carries no intent.
func (c *Classifier) Classify(text string) Intent {
	t := strings.TrimSpace(text)
	if t == "" {
		return Intent{}
	}
	return Intent{
		EndConversation: containsAny(t, c.endWords),
		WantsDiary:      containsAny(t, c.diaryWords),
		WantsMoment:     containsAny(t, c.momentWords),
	}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(text, w) {
			return true
		}
	}
	return false
}
