package archive

import (
	"path/filepath"
	"testing"

	"github.com/minetta-labs/palmchat/pkg/store"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func record(t *testing.T, a *Archive, charID string, msg store.Message) {
	t.Helper()
	if err := a.Record(charID, msg); err != nil {
		t.Fatalf("Record: %v", err)
	}
}

func TestRecordAndHistory(t *testing.T) {
	a := newTestArchive(t)
	record(t, a, "char_a", store.Message{ID: "m1", Role: store.RoleUser, Content: "在吗", TimeMS: 100})
	record(t, a, "char_a", store.Message{ID: "m2", Role: store.RoleAssistant, Content: "在的", TimeMS: 200})
	record(t, a, "char_b", store.Message{ID: "m3", Role: store.RoleUser, Content: "别的对话", TimeMS: 300})

	got, err := a.History("char_a", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("history = %+v", got)
	}
	// Oldest first, even though the query walks newest first.
	if got[0].MessageID != "m1" || got[1].MessageID != "m2" {
		t.Errorf("order = %s, %s", got[0].MessageID, got[1].MessageID)
	}
}

func TestHistoryLimitKeepsNewest(t *testing.T) {
	a := newTestArchive(t)
	for i, content := range []string{"一", "二", "三"} {
		record(t, a, "char_a", store.Message{ID: content, Role: store.RoleUser, Content: content, TimeMS: int64(100 + i)})
	}

	got, err := a.History("char_a", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 2 || got[0].Content != "二" || got[1].Content != "三" {
		t.Errorf("window = %+v", got)
	}
}

func TestRecordUpsertsByMessageID(t *testing.T) {
	a := newTestArchive(t)
	record(t, a, "char_a", store.Message{ID: "m1", Role: store.RoleAssistant, Content: "正在思考…", TimeMS: 100})
	record(t, a, "char_a", store.Message{ID: "m1", Role: store.RoleAssistant, Content: "真正的回复", Starred: true, TimeMS: 100})

	got, err := a.History("char_a", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("upsert duplicated the row: %+v", got)
	}
	if got[0].Content != "真正的回复" || !got[0].Starred {
		t.Errorf("row = %+v", got[0])
	}
}

func TestRecordRejectsEmptyID(t *testing.T) {
	a := newTestArchive(t)
	if err := a.Record("char_a", store.Message{Content: "没有 id"}); err == nil {
		t.Fatal("empty id accepted")
	}
}

func TestSearch(t *testing.T) {
	a := newTestArchive(t)
	record(t, a, "char_a", store.Message{ID: "m1", Role: store.RoleUser, Content: "周五有考试", TimeMS: 100})
	record(t, a, "char_a", store.Message{ID: "m2", Role: store.RoleAssistant, Content: "考试加油", TimeMS: 200})
	record(t, a, "char_a", store.Message{ID: "m3", Role: store.RoleUser, Content: "无关内容", TimeMS: 300})

	got, err := a.Search("考试", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("matches = %+v", got)
	}
	// Newest first.
	if got[0].MessageID != "m2" {
		t.Errorf("order = %s, %s", got[0].MessageID, got[1].MessageID)
	}

	if got, _ := a.Search("   ", 10); got != nil {
		t.Errorf("blank term returned %+v", got)
	}
}

func TestSearchEscapesWildcards(t *testing.T) {
	a := newTestArchive(t)
	record(t, a, "char_a", store.Message{ID: "m1", Role: store.RoleUser, Content: "进度是 100% 了", TimeMS: 100})
	record(t, a, "char_a", store.Message{ID: "m2", Role: store.RoleUser, Content: "进度是一半", TimeMS: 200})

	got, err := a.Search("100%", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].MessageID != "m1" {
		t.Errorf("wildcard leaked into the query: %+v", got)
	}
}

func TestStarredListing(t *testing.T) {
	a := newTestArchive(t)
	record(t, a, "char_a", store.Message{ID: "m1", Role: store.RoleUser, Content: "普通消息", TimeMS: 100})
	record(t, a, "char_a", store.Message{ID: "m2", Role: store.RoleAssistant, Content: "收藏的", Starred: true, TimeMS: 200})
	record(t, a, "char_b", store.Message{ID: "m3", Role: store.RoleUser, Content: "别人的收藏", Starred: true, TimeMS: 300})

	got, err := a.Starred("char_a")
	if err != nil {
		t.Fatalf("Starred: %v", err)
	}
	if len(got) != 1 || got[0].MessageID != "m2" {
		t.Errorf("starred = %+v", got)
	}
}
