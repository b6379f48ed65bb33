package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/minetta-labs/palmchat/pkg/bus"
	"github.com/minetta-labs/palmchat/pkg/logger"
	"github.com/minetta-labs/palmchat/pkg/providers"
	"github.com/minetta-labs/palmchat/pkg/store"
)

// Kind selects which derived artifact to generate.
type Kind string

const (
	KindMoment Kind = "moment"
	KindDiary  Kind = "diary"
)

const (
	derivedMaxTokens         = 2048
	momentDefaultTemperature = 0.8
	diaryDefaultTemperature  = 0.7

	// Up to this many recent same-kind items seed the prompt for
	// style continuity.
	styleSeedCount = 3

	emptyMomentFallback = "(AI 没有生成朋友圈内容)"
	emptyDiaryFallback  = "(AI 没有生成日记内容)"

	momentTruncationAdvisory = "\n\n(提示：这条朋友圈可能因为长度上限被截断，如果经常这样，" +
		"可以在模型平台上提高输出上限，或把提示写得更具体一点。)"
	diaryTruncationAdvisory = "\n\n(提示：这篇日记可能因为长度上限被截断，如果经常这样，" +
		"可以在模型平台上提高输出上限，或把提示写得更具体一点。)"
)

// GenerateDerivedContent produces a first-person feed post or diary
// entry authored by the character. Manual failures are returned to the
// caller; auto-triggered failures are swallowed into logs so
// background generation never interrupts the conversation.
func (p *Phone) GenerateDerivedContent(ctx context.Context, kind Kind, characterID, hint string, fromAuto bool) error {
	err := p.generateDerived(ctx, kind, characterID, hint)
	if err != nil && fromAuto {
		logger.WarnCF("derived", "Auto generation failed", map[string]interface{}{
			"kind":         string(kind),
			"character_id": characterID,
			"error":        err.Error(),
		})
		return nil
	}
	return err
}

func (p *Phone) generateDerived(ctx context.Context, kind Kind, characterID, hint string) error {
	if strings.TrimSpace(p.cfg.API.APIKey) == "" {
		return ErrMissingAPIKey
	}

	pc := p.resolvePromptContext(characterID)
	messages := p.buildDerivedMessages(pc, kind, hint)

	defaultTemp := diaryDefaultTemperature
	if kind == KindMoment {
		defaultTemp = momentDefaultTemperature
	}
	req := p.completionRequest(pc, messages, derivedMaxTokens, defaultTemp)

	comp, err := p.client.Chat(ctx, req)
	if err != nil {
		return fmt.Errorf("generate %s: %w", kind, err)
	}

	content := strings.TrimSpace(firstContent(comp))
	if content == "" {
		if kind == KindMoment {
			content = emptyMomentFallback
		} else {
			content = emptyDiaryFallback
		}
	}
	if comp.Truncated {
		if kind == KindMoment {
			content += momentTruncationAdvisory
		} else {
			content += diaryTruncationAdvisory
		}
	}

	if kind == KindMoment {
		p.store.AddMoment(store.Moment{
			AuthorType: store.AuthorChar,
			AuthorID:   characterID,
			Content:    content,
		})
		p.bus.Publish(bus.Event{Kind: bus.KindMoments})
	} else {
		p.store.AddDiaryEntry(store.DiaryEntry{
			AuthorType: store.AuthorChar,
			AuthorID:   characterID,
			Content:    content,
		})
		p.bus.Publish(bus.Event{Kind: bus.KindDiary})
	}
	p.saveSilent()
	return nil
}

// buildDerivedMessages assembles the second, differently-scoped prompt
// used for moments and diary entries: persona/scene block phrased for
// first-person writing, user-profile block, recent same-kind items for
// style continuity, then the hint or a default instruction.
func (p *Phone) buildDerivedMessages(pc promptContext, kind Kind, hint string) []providers.Message {
	messages := []providers.Message{}

	persona := ""
	style := ""
	if pc.hasChar {
		persona = strings.TrimSpace(pc.char.Persona)
		style = strings.TrimSpace(pc.char.StylePrompt)
	}
	if persona != "" || style != "" || pc.scene.Prompt != "" {
		var content string
		if kind == KindMoment {
			content = fmt.Sprintf("你现在扮演一名名为「%s」的角色，请以第一人称在朋友圈发一条动态。", pc.roleName())
		} else {
			content = fmt.Sprintf("你现在扮演一名名为「%s」的角色，请用第一人称写一篇今天的日记。", pc.roleName())
		}
		if persona != "" {
			content += fmt.Sprintf("内容和语气要符合下面的人设：%s。", persona)
		}
		if style != "" {
			content += fmt.Sprintf("\n\n补充的说话风格提示：%s", style)
		}
		if pc.scene.Key != "default" && pc.scene.Prompt != "" {
			if kind == KindMoment {
				content += fmt.Sprintf("\n\n当前推荐使用的聊天场景是「%s」，请在写朋友圈时也尽量贴合这个场景：%s", pc.scene.Name, pc.scene.Prompt)
			} else {
				content += fmt.Sprintf("\n\n当前推荐使用的聊天场景是「%s」，请在写日记时也带上一点这个场景的氛围：%s", pc.scene.Name, pc.scene.Prompt)
			}
		}
		if kind == KindMoment {
			content += "只输出朋友圈正文，不要解释。"
		} else {
			content += "可以包含当天发生的事情和心情，只输出日记正文。"
		}
		messages = append(messages, providers.Message{Role: "system", Content: content})
	}

	if block, ok := pc.userBlock(); ok {
		messages = append(messages, providers.Message{Role: "system", Content: block})
	}

	if seed := p.styleSeed(kind); seed != "" {
		var label string
		if kind == KindMoment {
			label = "以下是你之前发过的部分朋友圈，用于保持风格连贯：\n"
		} else {
			label = "以下是你之前写过的部分日记，用于保持风格连贯：\n"
		}
		messages = append(messages, providers.Message{Role: "system", Content: label + seed})
	}

	hint = strings.TrimSpace(hint)
	switch {
	case hint != "" && kind == KindMoment:
		messages = append(messages, providers.Message{Role: "user", Content: fmt.Sprintf("请根据这个提示写一条新的朋友圈：%s", hint)})
	case hint != "" && kind == KindDiary:
		messages = append(messages, providers.Message{Role: "user", Content: fmt.Sprintf("今天的关键词是：%s。请写一篇对应的日记。", hint)})
	case kind == KindMoment:
		messages = append(messages, providers.Message{Role: "user", Content: "请随意写一条今天的朋友圈动态，只输出正文。"})
	default:
		messages = append(messages, providers.Message{Role: "user", Content: "请随意写一篇今天的日记，只输出正文。"})
	}

	return messages
}

func (p *Phone) styleSeed(kind Kind) string {
	if kind == KindMoment {
		recent := p.store.LastMoments(styleSeedCount)
		if len(recent) == 0 {
			return ""
		}
		lines := make([]string, 0, len(recent))
		for i, m := range recent {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, m.Content))
		}
		return strings.Join(lines, "\n")
	}

	recent := p.store.LastDiaryEntries(styleSeedCount)
	if len(recent) == 0 {
		return ""
	}
	lines := make([]string, 0, len(recent))
	for _, e := range recent {
		lines = append(lines, e.Content)
	}
	return strings.Join(lines, "\n---\n")
}

// maybeAutoGenerate fires derived-content generation off the latest
// user message's intent. The per-kind watermark is advanced to the
// current conversation length before the asynchronous call is issued,
// so a rapid second trigger cannot fire twice while the first is
// outstanding.
func (p *Phone) maybeAutoGenerate(characterID string) {
	if !p.cfg.Auto.Moments && !p.cfg.Auto.Diary {
		return
	}

	msgCount := p.store.MessageCount(characterID)
	if msgCount == 0 {
		return
	}
	lastUser, ok := p.store.LastUserMessage(characterID)
	if !ok || strings.TrimSpace(lastUser.Content) == "" {
		return
	}

	intent := p.classifier.Classify(lastUser.Content)

	if p.cfg.Auto.Moments && (intent.EndConversation || intent.WantsMoment) && msgCount > p.store.AutoMomentWatermark() {
		p.store.SetAutoMomentWatermark(msgCount)
		p.async(func() {
			p.GenerateDerivedContent(context.Background(), KindMoment, characterID, "", true)
		})
	}

	if p.cfg.Auto.Diary && (intent.EndConversation || intent.WantsDiary) && msgCount > p.store.AutoDiaryWatermark() {
		p.store.SetAutoDiaryWatermark(msgCount)
		p.async(func() {
			p.GenerateDerivedContent(context.Background(), KindDiary, characterID, "", true)
		})
	}
}
