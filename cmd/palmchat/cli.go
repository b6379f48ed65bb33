package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/minetta-labs/palmchat/pkg/archive"
	"github.com/minetta-labs/palmchat/pkg/autosave"
	"github.com/minetta-labs/palmchat/pkg/bus"
	"github.com/minetta-labs/palmchat/pkg/channels"
	"github.com/minetta-labs/palmchat/pkg/chat"
	"github.com/minetta-labs/palmchat/pkg/config"
	"github.com/minetta-labs/palmchat/pkg/logger"
	"github.com/minetta-labs/palmchat/pkg/providers"
	"github.com/minetta-labs/palmchat/pkg/store"
)

// app bundles the wired runtime for one CLI invocation.
type app struct {
	cfg     *config.Config
	store   *store.Store
	phone   *chat.Phone
	archive *archive.Archive
	bus     *bus.Bus
}

func (a *app) close() {
	if a.archive != nil {
		_ = a.archive.Close()
	}
	a.bus.Close()
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))

	st := store.New(cfg.StatePath)
	if err := st.Load(); err != nil {
		return nil, err
	}

	client, err := providers.NewClient(cfg.API.Proxy)
	if err != nil {
		return nil, err
	}

	var rec chat.Recorder
	arc, err := archive.Open(filepath.Join(filepath.Dir(cfg.StatePath), "archive.db"))
	if err != nil {
		logger.WarnCF("archive", "Archive unavailable, continuing without it", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		rec = arc
	}

	notifier := bus.New()
	phone := chat.New(cfg, st, client, notifier, rec)
	return &app{cfg: cfg, store: st, phone: phone, archive: arc, bus: notifier}, nil
}

func buildRootCommand() *cobra.Command {
	var (
		configPath  string
		showVersion bool
	)

	root := &cobra.Command{
		Use:   "palmchat",
		Short: "AI character chat with moments, diary, rolling memory, and a Discord gateway",
		Long: strings.TrimSpace(`palmchat is a virtual phone for chatting with AI characters.

Conversations, auto-generated moments and diary entries, a rolling memory
summary, and per-character status boards all persist locally; a Discord
gateway can relay bound channels onto the same characters.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "Config file path")
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newChatCommand(&configPath))
	root.AddCommand(newModelsCommand(&configPath))
	root.AddCommand(newMomentCommand(&configPath))
	root.AddCommand(newDiaryCommand(&configPath))
	root.AddCommand(newStatusCommand(&configPath))
	root.AddCommand(newHistoryCommand(&configPath))
	root.AddCommand(newExportCommand(&configPath))
	root.AddCommand(newImportCommand(&configPath))
	root.AddCommand(newGatewayCommand(&configPath))
	root.AddCommand(newVersionCommand())

	return root
}

// resolveCharacter accepts a character id or name; an empty argument
// falls back to the currently focused character.
func resolveCharacter(st *store.Store, arg string) (store.Character, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		arg = st.CurrentCharID()
	}
	if arg == "" {
		return store.Character{}, fmt.Errorf("no character selected; pass --char or create one first")
	}
	if c, ok := st.CharacterByID(arg); ok {
		return c, nil
	}
	for _, c := range st.Characters() {
		if c.Name == arg {
			return c, nil
		}
	}
	return store.Character{}, fmt.Errorf("character %q not found", arg)
}

func newChatCommand(configPath *string) *cobra.Command {
	var (
		char    string
		message string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a character (interactive or one-shot)",
		Example: strings.Join([]string{
			"  palmchat chat",
			"  palmchat chat --char 小月",
			"  palmchat chat --char 小月 --message \"今天过得怎么样？\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				logger.SetLevel(logger.DEBUG)
			}
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			c, err := ensureCharacter(a, char)
			if err != nil {
				return err
			}
			a.store.SetCurrentCharID(c.ID)

			if strings.TrimSpace(message) != "" {
				return oneShot(a, c, message)
			}
			return runREPL(a, c)
		},
	}

	cmd.Flags().StringVarP(&char, "char", "c", "", "Character id or name")
	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message instead of interactive mode")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// ensureCharacter resolves the target, offering to create a first
// character on a fresh install.
func ensureCharacter(a *app, arg string) (store.Character, error) {
	if len(a.store.Characters()) == 0 {
		name := strings.TrimSpace(arg)
		if name == "" {
			fmt.Print("No characters yet. Name your first one: ")
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				return store.Character{}, fmt.Errorf("read input: %w", err)
			}
			name = strings.TrimSpace(line)
		}
		if name == "" {
			name = "小助手"
		}
		c := a.store.AddCharacter(store.Character{
			ID:   "char_" + strings.ReplaceAll(strings.ToLower(name), " ", "_"),
			Name: name,
		})
		if err := a.store.Save(); err != nil {
			return store.Character{}, err
		}
		fmt.Printf("✓ Created character %s\n", c.Name)
		return c, nil
	}
	return resolveCharacter(a.store, arg)
}

func oneShot(a *app, c store.Character, message string) error {
	before := a.store.MessageCount(c.ID)
	if err := a.phone.SendUserMessage(context.Background(), c.ID, message); err != nil {
		return err
	}
	for _, msg := range a.phone.GetConversation(c.ID)[before+1:] {
		if msg.Role == store.RoleAssistant {
			fmt.Printf("\n%s: %s\n", c.Name, msg.Content)
		}
	}
	return nil
}

func newModelsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "models",
		Short:   "List models offered by the configured endpoint",
		Example: "  palmchat models",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			models, err := a.phone.ListModels(ctx)
			if err != nil {
				return err
			}
			for _, m := range models {
				fmt.Println(m)
			}
			return nil
		},
	}
}

func newMomentCommand(configPath *string) *cobra.Command {
	var (
		char string
		hint string
	)

	cmd := &cobra.Command{
		Use:   "moment",
		Short: "Generate a character moment (feed post)",
		Example: strings.Join([]string{
			"  palmchat moment --char 小月",
			"  palmchat moment --char 小月 --hint 下雨天",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDerived(*configPath, char, hint, chat.KindMoment)
		},
	}
	cmd.Flags().StringVarP(&char, "char", "c", "", "Character id or name")
	cmd.Flags().StringVar(&hint, "hint", "", "Topic hint for the post")
	return cmd
}

func newDiaryCommand(configPath *string) *cobra.Command {
	var (
		char string
		hint string
	)

	cmd := &cobra.Command{
		Use:     "diary",
		Short:   "Generate a character diary entry",
		Example: "  palmchat diary --char 小月 --hint 期末考试",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDerived(*configPath, char, hint, chat.KindDiary)
		},
	}
	cmd.Flags().StringVarP(&char, "char", "c", "", "Character id or name")
	cmd.Flags().StringVar(&hint, "hint", "", "Keyword for the entry")
	return cmd
}

func runDerived(configPath, char, hint string, kind chat.Kind) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	c, err := resolveCharacter(a.store, char)
	if err != nil {
		return err
	}
	if err := a.phone.GenerateDerivedContent(context.Background(), kind, c.ID, hint, false); err != nil {
		return err
	}
	if kind == chat.KindMoment {
		posts := a.store.LastMoments(1)
		if len(posts) > 0 {
			fmt.Printf("%s 的朋友圈：\n%s\n", c.Name, posts[0].Content)
		}
		return nil
	}
	entries := a.store.LastDiaryEntries(1)
	if len(entries) > 0 {
		fmt.Printf("%s 的日记：\n%s\n", c.Name, entries[0].Content)
	}
	return nil
}

func newStatusCommand(configPath *string) *cobra.Command {
	var char string

	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Observe and update a character's status board",
		Example: "  palmchat status --char 小月",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			c, err := resolveCharacter(a.store, char)
			if err != nil {
				return err
			}
			snap, err := a.phone.GenerateStatus(context.Background(), c.ID, store.StatusSnapshot{})
			if err != nil {
				return err
			}
			printStatus(c.Name, snap)
			return nil
		},
	}
	cmd.Flags().StringVarP(&char, "char", "c", "", "Character id or name")
	return cmd
}

func printStatus(name string, snap store.StatusSnapshot) {
	fmt.Printf("%s 当前状态：\n", name)
	fmt.Printf("  好感度：%s\n", snap.Favor)
	fmt.Printf("  心里话：%s\n", snap.Thoughts)
	fmt.Printf("  穿着：%s\n", snap.Outfit)
	fmt.Printf("  正在做：%s\n", snap.Action)
}

func newHistoryCommand(configPath *string) *cobra.Command {
	var (
		limit   int
		starred bool
		char    string
	)

	cmd := &cobra.Command{
		Use:   "history [term]",
		Short: "Search the archived conversation history",
		Args:  cobra.MaximumNArgs(1),
		Example: strings.Join([]string{
			"  palmchat history 生日 --limit 10",
			"  palmchat history --starred --char 小月",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if a.archive == nil {
				return fmt.Errorf("archive is unavailable")
			}

			var entries []archive.Entry
			if starred {
				c, err := resolveCharacter(a.store, char)
				if err != nil {
					return err
				}
				entries, err = a.archive.Starred(c.ID)
				if err != nil {
					return err
				}
			} else {
				if len(args) == 0 {
					return fmt.Errorf("a search term is required unless --starred is set")
				}
				entries, err = a.archive.Search(args[0], limit)
				if err != nil {
					return err
				}
			}

			if len(entries) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			printEntries(a.store, entries)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum results")
	cmd.Flags().BoolVar(&starred, "starred", false, "List the character's starred messages instead of searching")
	cmd.Flags().StringVarP(&char, "char", "c", "", "Character id or name (with --starred)")
	return cmd
}

func printEntries(st *store.Store, entries []archive.Entry) {
	for _, e := range entries {
		who := st.ResolveAuthorName(store.AuthorChar, e.CharacterID)
		if e.Role == store.RoleUser {
			who = st.ResolveAuthorName(store.AuthorUser, st.CurrentUserProfileID())
		}
		when := time.UnixMilli(e.CreatedAtMS).Format("2006-01-02 15:04")
		fmt.Printf("[%s] %s: %s\n", when, who, e.Content)
	}
}

func newExportCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "export <file>",
		Short:   "Export the full state as a versioned JSON backup",
		Args:    cobra.ExactArgs(1),
		Example: "  palmchat export backup.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			data, err := a.store.Export()
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[0], data, 0o600); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			fmt.Printf("✓ Exported to %s\n", args[0])
			return nil
		},
	}
}

func newImportCommand(configPath *string) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "import <file>",
		Short:   "Replace the full state from a backup (destructive)",
		Args:    cobra.ExactArgs(1),
		Example: "  palmchat import backup.json --yes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				fmt.Print("This replaces ALL local data. Continue? (y/n): ")
				reader := bufio.NewReader(os.Stdin)
				response, err := reader.ReadString('\n')
				if err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				response = strings.ToLower(strings.TrimSpace(response))
				if response != "y" && response != "yes" {
					fmt.Println("Aborted.")
					return nil
				}
			}

			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read backup: %w", err)
			}
			if err := a.store.Import(data); err != nil {
				return err
			}
			if err := a.store.Save(); err != nil {
				return err
			}
			fmt.Println("✓ Import complete")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func newGatewayCommand(configPath *string) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Run the Discord gateway",
		Long:    "Relay bound Discord channels onto characters, with autosave if enabled.",
		Example: "  palmchat gateway --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				logger.SetLevel(logger.DEBUG)
			}
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if strings.TrimSpace(a.cfg.Discord.Token) == "" {
				return fmt.Errorf("discord.token is required in %s or PALMCHAT_DISCORD_TOKEN", *configPath)
			}
			if len(a.cfg.Discord.Bindings) == 0 {
				return fmt.Errorf("discord.bindings is empty; bind at least one channel to a character")
			}

			gateway, err := channels.NewDiscordGateway(a.cfg.Discord, a.phone)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			saver, err := autosave.New(a.cfg.Autosave, a.store)
			if err != nil {
				return err
			}
			go saver.Run(ctx)

			if err := gateway.Start(ctx); err != nil {
				return err
			}
			fmt.Println("✓ Gateway started, press Ctrl+C to stop")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt)
			<-sigChan

			fmt.Println("\nShutting down...")
			cancel()
			if err := gateway.Stop(context.Background()); err != nil {
				logger.WarnCF("discord", "Gateway stop failed", map[string]interface{}{"error": err.Error()})
			}
			if err := a.store.Save(); err != nil {
				logger.WarnCF("store", "Final save failed", map[string]interface{}{"error": err.Error()})
			}
			fmt.Println("✓ Gateway stopped")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  palmchat version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
