package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/minetta-labs/palmchat/pkg/chat"
	"github.com/minetta-labs/palmchat/pkg/store"
)

const replHelp = `Commands:
  /retry            Regenerate the last reply
  /moment [hint]    Ask the character to post a moment
  /diary [hint]     Ask the character to write a diary entry
  /status           Observe the character's current status
  /scene [key]      Show or switch the chat scene (default/study/love/work)
  /memory           Show the rolling memory summary
  /switch [name]    List characters (with unread counts) or switch
  /help             Show this help
  /quit             Exit`

func runREPL(a *app, c store.Character) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s You: ", appName),
		HistoryFile:     filepath.Join(os.TempDir(), ".palmchat_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("Chatting with %s (type /help for commands, Ctrl+C to exit)\n\n", c.Name)

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			done, switched := a.handleCommand(input, &c)
			if done {
				return nil
			}
			if switched {
				fmt.Printf("Now chatting with %s\n\n", c.Name)
			}
			continue
		}

		a.sendAndPrint(c, input)
	}
}

// sendAndPrint posts the user message and prints every reply bubble the
// turn produced.
func (a *app) sendAndPrint(c store.Character, text string) {
	before := a.store.MessageCount(c.ID)
	err := a.phone.SendUserMessage(context.Background(), c.ID, text)
	if errors.Is(err, chat.ErrBusy) {
		fmt.Println("(还在回复上一条，稍等一下)")
		return
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	a.printRepliesSince(c, before+1)
}

func (a *app) printRepliesSince(c store.Character, from int) {
	msgs := a.phone.GetConversation(c.ID)
	if from < 0 {
		from = 0
	}
	for i := from; i < len(msgs); i++ {
		if msgs[i].Role == store.RoleAssistant {
			fmt.Printf("\n%s: %s\n", c.Name, msgs[i].Content)
		}
	}
	fmt.Println()
}

// printLatestReplies prints the assistant bubbles after the last user
// message, which after a retry is exactly the regenerated reply.
func (a *app) printLatestReplies(c store.Character) {
	msgs := a.phone.GetConversation(c.ID)
	from := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == store.RoleUser {
			from = i + 1
			break
		}
	}
	a.printRepliesSince(c, from)
}

// handleCommand runs one slash command. done requests exit; switched
// reports that c now points at a different character.
func (a *app) handleCommand(input string, c *store.Character) (done bool, switched bool) {
	fields := strings.SplitN(input, " ", 2)
	command := fields[0]
	arg := ""
	if len(fields) == 2 {
		arg = strings.TrimSpace(fields[1])
	}

	switch command {
	case "/quit", "/exit":
		fmt.Println("Goodbye!")
		return true, false

	case "/help":
		fmt.Println(replHelp)

	case "/retry":
		err := a.phone.RetryLastReply(context.Background(), c.ID)
		switch {
		case errors.Is(err, chat.ErrNoAssistantReply):
			fmt.Println("(没有可以重试的回复)")
		case errors.Is(err, chat.ErrBusy):
			fmt.Println("(还在回复上一条，稍等一下)")
		case err != nil:
			fmt.Printf("Error: %v\n", err)
		default:
			a.printLatestReplies(*c)
		}

	case "/moment":
		if err := a.phone.GenerateDerivedContent(context.Background(), chat.KindMoment, c.ID, arg, false); err != nil {
			fmt.Printf("Error: %v\n", err)
			break
		}
		if posts := a.store.LastMoments(1); len(posts) > 0 {
			fmt.Printf("\n%s 发了一条朋友圈：\n%s\n\n", c.Name, posts[0].Content)
		}

	case "/diary":
		if err := a.phone.GenerateDerivedContent(context.Background(), chat.KindDiary, c.ID, arg, false); err != nil {
			fmt.Printf("Error: %v\n", err)
			break
		}
		if entries := a.store.LastDiaryEntries(1); len(entries) > 0 {
			fmt.Printf("\n%s 写了一篇日记：\n%s\n\n", c.Name, entries[0].Content)
		}

	case "/status":
		snap, err := a.phone.GenerateStatus(context.Background(), c.ID, store.StatusSnapshot{})
		if err != nil {
			var parseErr *chat.StatusParseError
			if errors.As(err, &parseErr) {
				fmt.Printf("状态解析失败，原始输出：\n%s\n", parseErr.Raw)
				break
			}
			fmt.Printf("Error: %v\n", err)
			break
		}
		printStatus(c.Name, snap)

	case "/scene":
		if arg == "" {
			current := a.store.CurrentScene()
			fmt.Printf("当前场景：%s\n可选：", current.Name)
			for _, s := range store.ScenePresets() {
				fmt.Printf("%s ", s.Key)
			}
			fmt.Println()
			break
		}
		a.store.SetCurrentSceneKey(arg)
		fmt.Printf("场景已切换为：%s\n", a.store.CurrentScene().Name)
		if err := a.store.Save(); err != nil {
			fmt.Printf("Error: %v\n", err)
		}

	case "/memory":
		mem := a.store.Memory()
		if strings.TrimSpace(mem.Summary) == "" {
			fmt.Println("(还没有记忆摘要)")
			break
		}
		fmt.Printf("记忆摘要（%d 条回复后更新）：\n%s\n", mem.SinceLastSummary, mem.Summary)

	case "/switch":
		if arg == "" {
			for _, ch := range a.store.Characters() {
				marker := "  "
				if ch.ID == a.store.CurrentCharID() {
					marker = "* "
				}
				if n := a.store.UnreadCount(ch.ID); n > 0 {
					fmt.Printf("%s%s (%s) 未读 %d\n", marker, ch.Name, ch.ID, n)
				} else {
					fmt.Printf("%s%s (%s)\n", marker, ch.Name, ch.ID)
				}
			}
			break
		}
		next, err := resolveCharacter(a.store, arg)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			break
		}
		*c = next
		a.store.SetCurrentCharID(next.ID)
		return false, true

	default:
		fmt.Printf("Unknown command: %s\n%s\n", command, replHelp)
	}
	return false, false
}
