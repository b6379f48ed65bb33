package chat

import (
	"context"
	"strings"

	"github.com/minetta-labs/palmchat/pkg/bus"
	"github.com/minetta-labs/palmchat/pkg/logger"
	"github.com/minetta-labs/palmchat/pkg/providers"
	"github.com/minetta-labs/palmchat/pkg/store"
)

// summarizerInstruction is the fixed system prompt for memory
// compression.
const summarizerInstruction = "你是一个总结助手，请把下面的聊天记录整理成一段简要记忆，" +
	"提取出用户长期偏好、重要背景信息和未完成的待办，用简短的中文要点列出来。" +
	"不要输出和原聊天无关的内容。"

const (
	summarizerMaxTokens   = 1024
	summarizerTemperature = 0.3
)

// ShouldSummarize reports whether the rolling summary is due: memory
// enabled and at least `every` assistant replies since the last
// successful summarization.
func (p *Phone) ShouldSummarize() bool {
	if !p.cfg.Memory.Enabled {
		return false
	}
	return p.store.Memory().SinceLastSummary >= p.cfg.Memory.Every
}

// maybeSummarizeMemory compresses the recent transcript into the
// global rolling summary when the threshold is crossed. Every failure
// here is soft: the prior summary and the counter stay untouched, so
// the next committed reply simply tries again. The conversation is
// never interrupted.
func (p *Phone) maybeSummarizeMemory(ctx context.Context, characterID string) {
	if !p.ShouldSummarize() {
		return
	}
	if strings.TrimSpace(p.cfg.API.APIKey) == "" {
		return
	}

	transcript := p.memoryTranscript(characterID)
	if transcript == "" {
		return
	}

	comp, err := p.client.Chat(ctx, providers.Request{
		BaseURL: p.cfg.API.BaseURL,
		APIKey:  p.cfg.API.APIKey,
		Model:   p.cfg.API.Model,
		Messages: []providers.Message{
			{Role: "system", Content: summarizerInstruction},
			{Role: "user", Content: transcript},
		},
		MaxTokens:   summarizerMaxTokens,
		Temperature: summarizerTemperature,
	})
	if err != nil {
		logger.WarnCF("memory", "Summarization failed", map[string]interface{}{"error": err.Error()})
		return
	}

	summary := strings.TrimSpace(firstContent(comp))
	if summary == "" {
		logger.WarnC("memory", "Summarization returned empty content")
		return
	}

	p.store.ReplaceMemorySummary(summary)
	p.bus.Publish(bus.Event{Kind: bus.KindMemory})
	p.saveSilent()
	logger.InfoCF("memory", "Rolling summary replaced", map[string]interface{}{"chars": len(summary)})
}

// memoryTranscript serializes the last `window` user/assistant turns
// of the conversation for the summarizer.
func (p *Phone) memoryTranscript(characterID string) string {
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
	window := p.cfg.Memory.Window
	if len(turns) > window {
		turns = turns[len(turns)-window:]
	}

	var b strings.Builder
	for i, m := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		if m.Role == store.RoleUser {
			b.WriteString("用户: ")
		} else {
			b.WriteString("助手: ")
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

// firstContent extracts the primary text of a completion: the first
// choice when the standard shape is present, else the fallback field.
func firstContent(comp *providers.Completion) string {
	if comp == nil {
		return ""
	}
	if comp.HasChoices {
		if len(comp.Choices) == 0 {
			return ""
		}
		return comp.Choices[0]
	}
	return comp.Content
}
