package chat

import (
	"fmt"
	"strings"

	"github.com/minetta-labs/palmchat/pkg/providers"
	"github.com/minetta-labs/palmchat/pkg/store"
)

const (
	defaultRoleName = "AI 助手"

	memorySummaryPreamble = "以下是你和用户之前多轮对话的摘要记忆，请在回答时参考这些要点，" +
		"让对话更加连贯，但不要逐字重复它们：\n"
)

// promptContext is everything resolved for one model call. Resolution
// happens once at request start, so a response always applies to the
// character it was issued for even if the user navigates away.
type promptContext struct {
	characterID string
	char        store.Character
	hasChar     bool
	user        store.UserProfile
	hasUser     bool
	world       store.WorldBook
	hasWorld    bool
	scene       store.Scene
	memory      string
}

func (p *Phone) resolvePromptContext(characterID string) promptContext {
	pc := promptContext{characterID: characterID}
	pc.char, pc.hasChar = p.store.CharacterByID(characterID)
	pc.user, pc.hasUser = p.store.UserProfileByID(p.store.CurrentUserProfileID())
	if pc.hasChar && pc.char.WorldBookID != "" {
		pc.world, pc.hasWorld = p.store.WorldBookByID(pc.char.WorldBookID)
	}
	pc.scene = p.store.CurrentScene()
	pc.memory = strings.TrimSpace(p.store.Memory().Summary)
	return pc
}

func (pc promptContext) roleName() string {
	if pc.hasChar && strings.TrimSpace(pc.char.Name) != "" {
		return pc.char.Name
	}
	return defaultRoleName
}

// personaBlock assembles the persona/style/scene/world system message.
// Empty when the character has no persona, style hint or active scene,
// matching the source's conditional.
func (pc promptContext) personaBlock() (string, bool) {
	persona := ""
	style := ""
	if pc.hasChar {
		persona = strings.TrimSpace(pc.char.Persona)
		style = strings.TrimSpace(pc.char.StylePrompt)
	}
	scenePrompt := pc.scene.Prompt
	if persona == "" && style == "" && scenePrompt == "" {
		return "", false
	}

	content := fmt.Sprintf("你现在扮演一名名为「%s」的 AI 助手，正在通过一个类似微信的在线聊天界面和用户对话。"+
		"请始终以自然、友好的聊天语气回答。", pc.roleName())
	if persona != "" {
		content += fmt.Sprintf("下面是你的详细人设设定：%s", persona)
	}
	if style != "" {
		content += fmt.Sprintf("\n\n补充的说话风格提示：%s", style)
	}
	if pc.scene.Key != "default" && scenePrompt != "" {
		content += fmt.Sprintf("\n\n当前会话处于场景「%s」，请根据下面的场景说明调整你的表现：%s", pc.scene.Name, scenePrompt)
	}
	if pc.hasWorld && strings.TrimSpace(pc.world.Content) != "" {
		content += fmt.Sprintf("\n\n以下是本次对话所属的世界观设定，请在回答时严格遵守这些世界规则：\n%s", pc.world.Content)
	}
	return content, true
}

func (pc promptContext) userBlock() (string, bool) {
	name := ""
	persona := ""
	if pc.hasUser {
		name = strings.TrimSpace(pc.user.Name)
		persona = strings.TrimSpace(pc.user.Persona)
	}
	if name == "" && persona == "" {
		return "", false
	}
	content := "用户信息："
	if name != "" {
		content += fmt.Sprintf("昵称为「%s」。", name)
	}
	if persona != "" {
		content += fmt.Sprintf("用户人设：%s", persona)
	}
	return content, true
}

// buildChatMessages assembles the completion prompt in the fixed
// order: memory summary, persona/scene/world block, user-profile
// block, then the persisted history with roles preserved. System
// segments are transient; they are never written into the log.
func (p *Phone) buildChatMessages(pc promptContext) []providers.Message {
	messages := []providers.Message{}

	if pc.memory != "" {
		messages = append(messages, providers.Message{
			Role:    "system",
			Content: memorySummaryPreamble + pc.memory,
		})
	}
	if block, ok := pc.personaBlock(); ok {
		messages = append(messages, providers.Message{Role: "system", Content: block})
	}
	if block, ok := pc.userBlock(); ok {
		messages = append(messages, providers.Message{Role: "system", Content: block})
	}

	for _, msg := range p.store.Messages(pc.characterID) {
		if msg.Role == store.RoleUser || msg.Role == store.RoleAssistant {
			messages = append(messages, providers.Message{Role: msg.Role, Content: msg.Content})
		}
	}
	return messages
}

// completionRequest resolves connection parameters with the
// character's overrides winning over globals.
func (p *Phone) completionRequest(pc promptContext, messages []providers.Message, maxTokens int, defaultTemp float64) providers.Request {
	req := providers.Request{
		BaseURL:     p.cfg.API.BaseURL,
		APIKey:      p.cfg.API.APIKey,
		Model:       p.cfg.API.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: defaultTemp,
	}
	if pc.hasChar {
		if base := strings.TrimSpace(pc.char.BaseURL); base != "" {
			req.BaseURL = base
		}
		if model := strings.TrimSpace(pc.char.Model); model != "" {
			req.Model = model
		}
		if pc.char.Temperature != nil {
			req.Temperature = *pc.char.Temperature
		}
	}
	return req
}
