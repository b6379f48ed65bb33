package chat

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/minetta-labs/palmchat/pkg/bus"
	"github.com/minetta-labs/palmchat/pkg/logger"
	"github.com/minetta-labs/palmchat/pkg/providers"
	"github.com/minetta-labs/palmchat/pkg/store"
)

const (
	thinkingPlaceholder = "正在思考…"

	emptyContentFallback = "(AI 没有返回文本内容)"

	emptyFallbackDiagnostic = "(AI 没有返回文本内容，请检查原始返回内容，以及你所用平台的接口文档)"

	emptyChoicesDiagnostic = "接口返回的 choices 为空，后端没有生成任何回复。\n" +
		"请到你使用的平台检查：\n" +
		"1）API Key 是否有该模型的权限/余额；\n" +
		"2）是否需要在平台控制台里先创建应用或绑定模型；\n" +
		"3）参考平台提供的 curl/Postman 示例，看是否有额外必填参数。"

	truncationAdvisory = "\n\n(提示：本次回复可能因为长度上限被截断，如果经常这样，" +
		"可以在模型平台上提高单次输出上限，或让问题更具体一些。)"

	chatMaxTokens = 2048
)

var segmentSeparator = regexp.MustCompile(`\r?\n\s*\r?\n`)

// splitSegments breaks a reply on blank lines into ordered, trimmed,
// non-empty segments; each segment is displayed as its own bubble.
func splitSegments(text string) []string {
	if text == "" {
		return nil
	}
	parts := segmentSeparator.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SendUserMessage appends the user's message and requests the
// assistant reply. Rejected with ErrBusy while a reply is in flight;
// the busy window opens before the append, so a rejected send leaves
// the log untouched even under concurrent callers.
func (p *Phone) SendUserMessage(ctx context.Context, characterID, text string) error {
	if strings.TrimSpace(p.cfg.API.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if !p.sending.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer p.sending.Store(false)

	msg := p.store.Append(characterID, store.RoleUser, text)
	p.record(characterID, msg)
	p.bus.Publish(bus.Event{Kind: bus.KindConversation, CharacterID: characterID})
	p.saveSilent()
	return p.replyTurn(ctx, characterID)
}

// RetryLastReply drops the trailing assistant reply and asks again.
// Fails without a network call when there is nothing to drop.
func (p *Phone) RetryLastReply(ctx context.Context, characterID string) error {
	if strings.TrimSpace(p.cfg.API.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if !p.sending.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer p.sending.Store(false)

	if !p.store.TruncateAfterLastAssistant(characterID) {
		return ErrNoAssistantReply
	}
	p.bus.Publish(bus.Event{Kind: bus.KindConversation, CharacterID: characterID})
	p.saveSilent()
	return p.replyTurn(ctx, characterID)
}

// RequestAssistantReply runs one orchestrated turn against the current
// conversation tail, guarded by the same busy flag as sends.
func (p *Phone) RequestAssistantReply(ctx context.Context, characterID string) error {
	if strings.TrimSpace(p.cfg.API.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if !p.sending.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer p.sending.Store(false)
	return p.replyTurn(ctx, characterID)
}

// replyTurn runs one orchestrated turn: build the prompt from
// persisted state, park a thinking placeholder, call the model, merge
// the reply into the conversation, then run the post-commit hooks
// (memory counter, intent-driven auto generation, memory
// summarization) strictly in that order. The caller holds the busy
// flag.
//
// Transport and content failures are committed inline as the
// assistant's message; only configuration problems come back as
// errors.
func (p *Phone) replyTurn(ctx context.Context, characterID string) error {
	// Everything below applies to the character captured here, even if
	// the UI moves to another chat before the response lands.
	pc := p.resolvePromptContext(characterID)
	messages := p.buildChatMessages(pc)

	p.store.Append(characterID, store.RoleAssistant, thinkingPlaceholder)
	placeholderIdx := p.store.MessageCount(characterID) - 1
	p.bus.Publish(bus.Event{Kind: bus.KindConversation, CharacterID: characterID})

	req := p.completionRequest(pc, messages, chatMaxTokens, p.cfg.API.Temperature)

	comp, err := p.client.Chat(ctx, req)
	if err != nil {
		p.store.ReplaceContent(characterID, placeholderIdx, fmt.Sprintf("出错了：%v", err))
		p.bus.Publish(bus.Event{Kind: bus.KindConversation, CharacterID: characterID})
		p.saveSilent()
		logger.WarnCF("chat", "Completion failed", map[string]interface{}{
			"character_id": characterID,
			"error":        err.Error(),
		})
		return nil
	}

	p.commitReply(characterID, placeholderIdx, comp)
	p.runPostCommitHooks(ctx, characterID)
	return nil
}

// normalizeReply reduces a completion to the first bubble, the
// remaining bubbles, and the truncation flag.
func normalizeReply(comp *providers.Completion) (first string, rest []string, truncated bool) {
	if comp.HasChoices {
		if len(comp.Choices) == 0 {
			return emptyChoicesDiagnostic, nil, false
		}
		var segments []string
		for _, choice := range comp.Choices {
			segments = append(segments, splitSegments(choice)...)
		}
		if len(segments) == 0 {
			return emptyContentFallback, nil, comp.Truncated
		}
		return segments[0], segments[1:], comp.Truncated
	}

	content := comp.Content
	if strings.TrimSpace(content) == "" {
		return emptyFallbackDiagnostic, nil, false
	}
	segments := splitSegments(content)
	if len(segments) == 0 {
		return content, nil, false
	}
	return segments[0], segments[1:], false
}

// commitReply merges a completion into the conversation at the
// placeholder position.
func (p *Phone) commitReply(characterID string, placeholderIdx int, comp *providers.Completion) {
	first, rest, truncated := normalizeReply(comp)
	if truncated {
		first += truncationAdvisory
	}
	p.store.ReplaceContent(characterID, placeholderIdx, first)
	if msg, ok := p.store.MessageAt(characterID, placeholderIdx); ok {
		p.record(characterID, msg)
	}

	for _, segment := range rest {
		msg := p.store.Append(characterID, store.RoleAssistant, segment)
		p.record(characterID, msg)
	}

	p.bus.Publish(bus.Event{Kind: bus.KindConversation, CharacterID: characterID})
	p.saveSilent()
}

// runPostCommitHooks fires strictly after the reply is committed:
// bump the memory counter exactly once, classify the latest user
// message, maybe auto-generate derived content, then maybe compress
// memory.
func (p *Phone) runPostCommitHooks(ctx context.Context, characterID string) {
	p.store.IncrementMemoryCounter()
	p.maybeAutoGenerate(characterID)
	p.maybeSummarizeMemory(ctx, characterID)
}
