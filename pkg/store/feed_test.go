package store

import "testing"

func TestAddMomentFillsDefaults(t *testing.T) {
	s := newTestStore(t)
	m := s.AddMoment(Moment{AuthorType: AuthorChar, AuthorID: "char_a", Content: "第一条"})
	if m.ID == "" || m.TimeMS == 0 {
		t.Errorf("defaults not filled: %+v", m)
	}
	if m.LikedByChars == nil || m.Comments == nil {
		t.Error("like/comment structures not initialized")
	}
}

func TestCharLikeSetSemantics(t *testing.T) {
	s := newTestStore(t)
	s.AddMoment(Moment{AuthorType: AuthorChar, AuthorID: "char_a", Content: "动态"})

	s.ToggleMomentLikeAsChar(0, "char_b")
	s.ToggleMomentLikeAsChar(0, "char_c")
	if got := s.Moments()[0].LikedByChars; len(got) != 2 {
		t.Fatalf("likes = %v", got)
	}

	// Toggling again removes, never duplicates.
	s.ToggleMomentLikeAsChar(0, "char_b")
	got := s.Moments()[0].LikedByChars
	if len(got) != 1 || got[0] != "char_c" {
		t.Errorf("likes after un-like = %v", got)
	}

	if s.ToggleMomentLikeAsChar(9, "char_b") {
		t.Error("out-of-range like reported success")
	}
}

func TestUserLikeToggle(t *testing.T) {
	s := newTestStore(t)
	s.AddMoment(Moment{AuthorType: AuthorChar, AuthorID: "char_a", Content: "动态"})

	s.ToggleMomentLikeAsUser(0)
	if !s.Moments()[0].LikedByUser {
		t.Error("user like not set")
	}
	s.ToggleMomentLikeAsUser(0)
	if s.Moments()[0].LikedByUser {
		t.Error("user like not cleared")
	}
}

func TestMomentComments(t *testing.T) {
	s := newTestStore(t)
	s.AddMoment(Moment{AuthorType: AuthorChar, AuthorID: "char_a", Content: "动态"})

	if !s.AddMomentComment(0, Comment{FromType: AuthorUser, FromID: "user_a", Content: "好看！"}) {
		t.Fatal("in-range comment reported failure")
	}
	comments := s.Moments()[0].Comments
	if len(comments) != 1 || comments[0].Content != "好看！" {
		t.Errorf("comments = %+v", comments)
	}
	if comments[0].TimeMS == 0 {
		t.Error("comment timestamp not filled")
	}

	if s.AddMomentComment(5, Comment{Content: "x"}) {
		t.Error("out-of-range comment reported success")
	}
}

func TestMomentFromMessageAuthorResolution(t *testing.T) {
	s := newTestStore(t)
	s.SetCurrentUserProfileID("user_a")
	s.Append("char_a", RoleUser, "用户说的话")
	s.Append("char_a", RoleAssistant, "角色说的话")

	m, ok := s.MomentFromMessage("char_a", 0)
	if !ok {
		t.Fatal("share of user message failed")
	}
	if m.AuthorType != AuthorUser || m.AuthorID != "user_a" {
		t.Errorf("user share author = %s/%s", m.AuthorType, m.AuthorID)
	}
	if m.Content != "用户说的话" {
		t.Errorf("shared content = %q", m.Content)
	}

	m, ok = s.MomentFromMessage("char_a", 1)
	if !ok {
		t.Fatal("share of assistant message failed")
	}
	if m.AuthorType != AuthorChar || m.AuthorID != "char_a" {
		t.Errorf("char share author = %s/%s", m.AuthorType, m.AuthorID)
	}

	if _, ok := s.MomentFromMessage("char_a", 9); ok {
		t.Error("out-of-range share reported success")
	}
	if got := s.Moments(); len(got) != 2 {
		t.Errorf("feed has %d posts", len(got))
	}
}

func TestLastMomentsWindow(t *testing.T) {
	s := newTestStore(t)
	for _, text := range []string{"一", "二", "三", "四"} {
		s.AddMoment(Moment{AuthorType: AuthorChar, AuthorID: "char_a", Content: text})
	}

	got := s.LastMoments(2)
	if len(got) != 2 || got[0].Content != "三" || got[1].Content != "四" {
		t.Errorf("window = %+v", got)
	}
	if got := s.LastMoments(10); len(got) != 4 {
		t.Errorf("oversized window = %d posts", len(got))
	}
}

func TestDiaryAppendAndWindow(t *testing.T) {
	s := newTestStore(t)
	for _, text := range []string{"第一篇", "第二篇", "第三篇"} {
		s.AddDiaryEntry(DiaryEntry{AuthorType: AuthorChar, AuthorID: "char_a", Content: text})
	}

	entries := s.DiaryEntries()
	if len(entries) != 3 || entries[0].Content != "第一篇" {
		t.Errorf("entries = %+v", entries)
	}
	last := s.LastDiaryEntries(1)
	if len(last) != 1 || last[0].Content != "第三篇" {
		t.Errorf("window = %+v", last)
	}
}

func TestStatusBoardHistoryGrows(t *testing.T) {
	s := newTestStore(t)

	board := s.StatusBoardFor("char_a")
	if board.History == nil || len(board.History) != 0 {
		t.Errorf("fresh board = %+v", board)
	}

	s.SetStatus("char_a", StatusSnapshot{Favor: "一般"})
	s.SetStatus("char_a", StatusSnapshot{Favor: "很喜欢"})

	board = s.StatusBoardFor("char_a")
	if board.Current.Favor != "很喜欢" {
		t.Errorf("current = %+v", board.Current)
	}
	if len(board.History) != 2 || board.History[0].Favor != "一般" {
		t.Errorf("history = %+v", board.History)
	}
	if board.Current.TimeMS == 0 {
		t.Error("snapshot timestamp not filled")
	}
}

func TestStatusBoardCopyIsDetached(t *testing.T) {
	s := newTestStore(t)
	s.SetStatus("char_a", StatusSnapshot{Favor: "一般"})

	board := s.StatusBoardFor("char_a")
	board.History[0].Favor = "改掉了"
	if got := s.StatusBoardFor("char_a").History[0].Favor; got != "一般" {
		t.Errorf("caller mutation leaked into the store: %q", got)
	}
}
