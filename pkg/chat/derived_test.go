package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/minetta-labs/palmchat/pkg/providers"
	"github.com/minetta-labs/palmchat/pkg/store"
)

func TestGenerateMomentCommitsToFeed(t *testing.T) {
	p, client := newTestPhone(t)
	c := p.Store().AddCharacter(store.Character{ID: "char_m", Name: "小月", Persona: "爱画画的女孩"})
	client.queue(choices("今天的晚霞好好看，想把它画下来。"), nil)

	if err := p.GenerateDerivedContent(context.Background(), KindMoment, c.ID, "", false); err != nil {
		t.Fatalf("GenerateDerivedContent: %v", err)
	}

	moments := p.Store().Moments()
	if len(moments) != 1 {
		t.Fatalf("expected 1 moment, got %d", len(moments))
	}
	m := moments[0]
	if m.AuthorType != store.AuthorChar || m.AuthorID != c.ID {
		t.Errorf("wrong author: %+v", m)
	}
	if m.Content != "今天的晚霞好好看，想把它画下来。" {
		t.Errorf("content = %q", m.Content)
	}

	req := client.lastRequest(t)
	if req.Temperature != momentDefaultTemperature {
		t.Errorf("moment temperature = %v", req.Temperature)
	}
}

func TestGenerateDiaryUsesHint(t *testing.T) {
	p, client := newTestPhone(t)
	c := p.Store().AddCharacter(store.Character{ID: "char_m", Name: "小月", Persona: "爱画画的女孩"})
	client.queue(choices("今天考完试了，终于可以休息了。"), nil)

	if err := p.GenerateDerivedContent(context.Background(), KindDiary, c.ID, "期末考试", false); err != nil {
		t.Fatalf("GenerateDerivedContent: %v", err)
	}

	entries := p.Store().DiaryEntries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 diary entry, got %d", len(entries))
	}

	req := client.lastRequest(t)
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" || !strings.Contains(last.Content, "期末考试") {
		t.Errorf("hint missing from final user message: %+v", last)
	}
	if req.Temperature != diaryDefaultTemperature {
		t.Errorf("diary temperature = %v", req.Temperature)
	}
}

func TestDerivedEmptyReplyGetsFallback(t *testing.T) {
	p, client := newTestPhone(t)
	c := addCharacter(t, p, "moon")
	client.queue(choices(""), nil)

	if err := p.GenerateDerivedContent(context.Background(), KindMoment, c.ID, "", false); err != nil {
		t.Fatalf("GenerateDerivedContent: %v", err)
	}
	if got := p.Store().Moments()[0].Content; got != emptyMomentFallback {
		t.Errorf("content = %q", got)
	}
}

func TestManualDerivedFailureSurfaces(t *testing.T) {
	p, client := newTestPhone(t)
	c := addCharacter(t, p, "moon")
	client.queue(nil, &providers.TransportError{Status: 500, Message: "down"})

	if err := p.GenerateDerivedContent(context.Background(), KindDiary, c.ID, "", false); err == nil {
		t.Fatal("manual generation failure must be returned")
	}
	if n := len(p.Store().DiaryEntries()); n != 0 {
		t.Errorf("failed generation committed %d entries", n)
	}
}

func TestAutoDerivedFailureSwallowed(t *testing.T) {
	p, client := newTestPhone(t)
	c := addCharacter(t, p, "moon")
	client.queue(nil, &providers.TransportError{Status: 500, Message: "down"})

	if err := p.GenerateDerivedContent(context.Background(), KindMoment, c.ID, "", true); err != nil {
		t.Fatalf("auto generation failure must be swallowed, got %v", err)
	}
}

func TestStyleSeedIncludesRecentItems(t *testing.T) {
	p, _ := newTestPhone(t)
	for _, text := range []string{"第一条", "第二条", "第三条", "第四条"} {
		p.Store().AddMoment(store.Moment{AuthorType: store.AuthorChar, AuthorID: "char_m", Content: text})
	}

	seed := p.styleSeed(KindMoment)
	if strings.Contains(seed, "第一条") {
		t.Errorf("seed kept an item past the window: %q", seed)
	}
	for _, want := range []string{"1. 第二条", "2. 第三条", "3. 第四条"} {
		if !strings.Contains(seed, want) {
			t.Errorf("seed missing %q: %q", want, seed)
		}
	}
}

func TestAutoMomentFiresOnceAtWatermark(t *testing.T) {
	p, client := newTestPhone(t)
	p.cfg.Auto.Moments = true
	c := addCharacter(t, p, "moon")

	// Reply turn, then the auto moment.
	client.queue(choices("晚安，做个好梦"), nil)
	client.queue(choices("今天聊得很开心。"), nil)

	if err := p.SendUserMessage(context.Background(), c.ID, "今天先这样，晚安"); err != nil {
		t.Fatalf("SendUserMessage: %v", err)
	}
	if n := len(p.Store().Moments()); n != 1 {
		t.Fatalf("expected exactly 1 auto moment, got %d", n)
	}

	// Re-running the hook at the same conversation length must not fire
	// again.
	calls := client.calls()
	p.maybeAutoGenerate(c.ID)
	if client.calls() != calls {
		t.Error("auto trigger fired twice for the same watermark")
	}
	if n := len(p.Store().Moments()); n != 1 {
		t.Errorf("duplicate auto moment: %d", n)
	}
}

func TestAutoDiaryNeedsNewMessagesPastWatermark(t *testing.T) {
	p, client := newTestPhone(t)
	p.cfg.Auto.Diary = true
	c := addCharacter(t, p, "moon")

	client.queue(choices("好的，日记写好啦"), nil)
	client.queue(choices("今天帮用户复习了功课。"), nil)
	if err := p.SendUserMessage(context.Background(), c.ID, "帮我写日记"); err != nil {
		t.Fatalf("SendUserMessage: %v", err)
	}
	if n := len(p.Store().DiaryEntries()); n != 1 {
		t.Fatalf("expected 1 auto diary entry, got %d", n)
	}

	// New turns past the watermark re-arm the trigger.
	client.queue(choices("又写了一篇"), nil)
	client.queue(choices("第二篇日记。"), nil)
	if err := p.SendUserMessage(context.Background(), c.ID, "再生成日记吧"); err != nil {
		t.Fatalf("SendUserMessage: %v", err)
	}
	if n := len(p.Store().DiaryEntries()); n != 2 {
		t.Errorf("trigger did not re-arm: %d entries", n)
	}
}

func TestAutoDisabledNeverFires(t *testing.T) {
	p, client := newTestPhone(t)
	c := addCharacter(t, p, "moon")

	client.queue(choices("晚安"), nil)
	if err := p.SendUserMessage(context.Background(), c.ID, "今天先这样，晚安"); err != nil {
		t.Fatalf("SendUserMessage: %v", err)
	}
	if client.calls() != 1 {
		t.Errorf("auto generation ran while disabled: %d calls", client.calls())
	}
	if n := len(p.Store().Moments()); n != 0 {
		t.Errorf("unexpected moments: %d", n)
	}
}
