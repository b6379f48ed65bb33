package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/minetta-labs/palmchat/pkg/bus"
	"github.com/minetta-labs/palmchat/pkg/providers"
	"github.com/minetta-labs/palmchat/pkg/store"
)

const (
	statusObserverInstruction = "你现在是一个“角色状态观察者”。根据下面提供的角色设定和最近的聊天内容，" +
		"推断角色此刻的状态，并只输出一个 JSON 对象，不要输出任何解释文字。" +
		"键名必须是：favor, thoughts, outfit, action。" +
		"favor 表示角色对用户当前的好感度或态度，thoughts 是角色此刻心里在想什么，" +
		"outfit 是角色现在的穿着，action 是角色正在做的事情。所有值都用简短的中文。"

	statusMaxTokens   = 512
	statusTemperature = 0.7

	// How many trailing turns of the conversation the observer sees.
	statusTurnWindow = 10
)

// GenerateStatus asks the model to observe the character and produce a
// structured status snapshot. draft fields, when set, are offered to
// the model as the user's own guesses. The board is only modified on a
// successful parse; any failure leaves current and history untouched.
func (p *Phone) GenerateStatus(ctx context.Context, characterID string, draft store.StatusSnapshot) (store.StatusSnapshot, error) {
	if strings.TrimSpace(p.cfg.API.APIKey) == "" {
		return store.StatusSnapshot{}, ErrMissingAPIKey
	}

	pc := p.resolvePromptContext(characterID)
	if !pc.hasChar {
		return store.StatusSnapshot{}, ErrCharacterNotFound
	}

	messages := p.buildStatusMessages(pc, draft)
	req := p.completionRequest(pc, messages, statusMaxTokens, statusTemperature)

	comp, err := p.client.Chat(ctx, req)
	if err != nil {
		return store.StatusSnapshot{}, fmt.Errorf("generate status: %w", err)
	}

	raw := strings.TrimSpace(firstContent(comp))
	if raw == "" {
		return store.StatusSnapshot{}, ErrEmptyStatus
	}

	snapshot, ok := parseStatusJSON(raw)
	if !ok {
		return store.StatusSnapshot{}, &StatusParseError{Raw: raw}
	}

	stored := p.store.SetStatus(characterID, snapshot)
	p.bus.Publish(bus.Event{Kind: bus.KindStatus, CharacterID: characterID})
	p.saveSilent()
	return stored, nil
}

func (p *Phone) buildStatusMessages(pc promptContext, draft store.StatusSnapshot) []providers.Message {
	observer := statusObserverInstruction
	if pc.hasChar {
		if persona := strings.TrimSpace(pc.char.Persona); persona != "" {
			observer += fmt.Sprintf("\n\n角色「%s」的人设：%s", pc.roleName(), persona)
		} else {
			observer += fmt.Sprintf("\n\n角色名为「%s」。", pc.roleName())
		}
	}

	messages := []providers.Message{{Role: "system", Content: observer}}

	if pc.memory != "" {
		messages = append(messages, providers.Message{
			Role:    "system",
			Content: memorySummaryPreamble + pc.memory,
		})
	}
	if block, ok := pc.userBlock(); ok {
		messages = append(messages, providers.Message{Role: "system", Content: block})
	}

	if transcript := p.statusTranscript(pc.characterID); transcript != "" {
		messages = append(messages, providers.Message{
			Role:    "system",
			Content: "最近的聊天记录：\n" + transcript,
		})
	}

	messages = append(messages, providers.Message{Role: "user", Content: statusDraftPrompt(draft)})
	return messages
}

// statusDraftPrompt turns user-supplied draft fields into the final
// instruction; with no draft the model is asked to infer everything.
func statusDraftPrompt(draft store.StatusSnapshot) string {
	hints := make([]string, 0, 4)
	if v := strings.TrimSpace(draft.Favor); v != "" {
		hints = append(hints, fmt.Sprintf("好感度大概是：%s", v))
	}
	if v := strings.TrimSpace(draft.Thoughts); v != "" {
		hints = append(hints, fmt.Sprintf("角色可能在想：%s", v))
	}
	if v := strings.TrimSpace(draft.Outfit); v != "" {
		hints = append(hints, fmt.Sprintf("穿着可能是：%s", v))
	}
	if v := strings.TrimSpace(draft.Action); v != "" {
		hints = append(hints, fmt.Sprintf("正在做的事可能是：%s", v))
	}
	if len(hints) == 0 {
		return "请根据以上信息推断角色当前的状态，只输出 JSON。"
	}
	return "我对角色状态的猜测如下，请参考并修正后只输出 JSON：\n" + strings.Join(hints, "\n")
}

// statusTranscript serializes the trailing turns for the observer.
func (p *Phone) statusTranscript(characterID string) string {
	msgs := p.store.Messages(characterID)
	turns := make([]store.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == store.RoleUser || m.Role == store.RoleAssistant {
			turns = append(turns, m)
		}
	}
	if len(turns) == 0 {
		return ""
	}
	if len(turns) > statusTurnWindow {
		turns = turns[len(turns)-statusTurnWindow:]
	}

	var b strings.Builder
	for i, m := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		if m.Role == store.RoleUser {
			b.WriteString("用户：")
		} else {
			b.WriteString("角色：")
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

// parseStatusJSON extracts the first {...} block from the reply and
// unmarshals it. Models often wrap the object in prose or code fences;
// everything outside the braces is ignored.
func parseStatusJSON(raw string) (store.StatusSnapshot, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return store.StatusSnapshot{}, false
	}

	var parsed struct {
		Favor    string `json:"favor"`
		Thoughts string `json:"thoughts"`
		Outfit   string `json:"outfit"`
		Action   string `json:"action"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return store.StatusSnapshot{}, false
	}
	return store.StatusSnapshot{
		Favor:    strings.TrimSpace(parsed.Favor),
		Thoughts: strings.TrimSpace(parsed.Thoughts),
		Outfit:   strings.TrimSpace(parsed.Outfit),
		Action:   strings.TrimSpace(parsed.Action),
	}, true
}
