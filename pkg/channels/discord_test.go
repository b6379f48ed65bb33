package channels

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitMessageShortPassesThrough(t *testing.T) {
	got := splitMessage("一条短消息", 1500)
	if len(got) != 1 || got[0] != "一条短消息" {
		t.Errorf("chunks = %q", got)
	}
}

func TestSplitMessageEmpty(t *testing.T) {
	if got := splitMessage("", 1500); got != nil {
		t.Errorf("chunks = %q", got)
	}
}

func TestSplitMessagePrefersNewlineNearLimit(t *testing.T) {
	first := strings.Repeat("甲", 90)
	second := strings.Repeat("乙", 60)
	got := splitMessage(first+"\n"+second, 100)

	if len(got) != 2 {
		t.Fatalf("chunks = %d", len(got))
	}
	if got[0] != first {
		t.Errorf("first chunk = %q", got[0])
	}
	if got[1] != second {
		t.Errorf("second chunk = %q", got[1])
	}
}

func TestSplitMessageHardCutWithoutNewline(t *testing.T) {
	// Chinese text has no spaces; the cut must land on a rune boundary.
	in := strings.Repeat("汉", 250)
	got := splitMessage(in, 100)

	if len(got) != 3 {
		t.Fatalf("chunks = %d", len(got))
	}
	total := 0
	for i, chunk := range got {
		if !utf8.ValidString(chunk) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
		n := utf8.RuneCountInString(chunk)
		if n > 100 {
			t.Errorf("chunk %d has %d runes", i, n)
		}
		total += n
	}
	if total != 250 {
		t.Errorf("runes lost in split: %d", total)
	}
}

func TestSplitMessageTrimsChunkBoundaries(t *testing.T) {
	in := strings.Repeat("甲", 95) + "\n  " + strings.Repeat("乙", 20)
	got := splitMessage(in, 100)

	if len(got) != 2 {
		t.Fatalf("chunks = %q", got)
	}
	if strings.ContainsAny(got[1][:len("乙")], "\n ") {
		t.Errorf("second chunk keeps boundary whitespace: %q", got[1])
	}
	if !strings.HasPrefix(got[1], "乙") {
		t.Errorf("second chunk = %q", got[1])
	}
}
