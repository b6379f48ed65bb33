// Package channels bridges external chat surfaces onto the phone core.
// The Discord gateway binds guild channels to characters: a message in
// a bound channel becomes a user turn, and the character's reply
// bubbles are relayed back as separate Discord messages.
package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/minetta-labs/palmchat/pkg/chat"
	"github.com/minetta-labs/palmchat/pkg/config"
	"github.com/minetta-labs/palmchat/pkg/logger"
	"github.com/minetta-labs/palmchat/pkg/store"
)

const (
	sendTimeout           = 10 * time.Second
	typingRefreshInterval = 8 * time.Second

	// Discord caps messages at 2000 characters; leave headroom so a
	// chunk boundary can land on a natural break.
	chunkLimit = 1500

	busyNotice = "我还在回上一条消息，稍等一下再发～"
)

// DiscordGateway is a single bot session serving all bound channels.
type DiscordGateway struct {
	session  *discordgo.Session
	cfg      config.DiscordConfig
	phone    *chat.Phone
	running  bool
	mu       sync.Mutex
	typing   map[string]context.CancelFunc
	typingMu sync.Mutex
}

// NewDiscordGateway builds the gateway. The session is not opened
// until Start.
func NewDiscordGateway(cfg config.DiscordConfig, phone *chat.Phone) (*DiscordGateway, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("discord token is empty")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &DiscordGateway{
		session: session,
		cfg:     cfg,
		phone:   phone,
		typing:  make(map[string]context.CancelFunc),
	}, nil
}

func (g *DiscordGateway) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord gateway")

	g.session.AddHandler(g.handleMessage)
	g.session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	g.setRunning(true)

	botUser, err := g.session.User("@me")
	if err != nil {
		return fmt.Errorf("get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord gateway connected", map[string]interface{}{
		"username": botUser.Username,
		"bindings": len(g.cfg.Bindings),
	})
	return nil
}

func (g *DiscordGateway) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord gateway")
	g.setRunning(false)
	g.stopAllTyping()
	if err := g.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (g *DiscordGateway) setRunning(v bool) {
	g.mu.Lock()
	g.running = v
	g.mu.Unlock()
}

func (g *DiscordGateway) isRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

func (g *DiscordGateway) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil {
		return
	}
	if m.Author.ID == s.State.User.ID {
		return
	}

	characterID, ok := g.cfg.Bindings[m.ChannelID]
	if !ok {
		return
	}
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return
	}

	logger.DebugCF("discord", "Inbound message", map[string]interface{}{
		"channel_id":   m.ChannelID,
		"character_id": characterID,
		"user_id":      m.Author.ID,
	})

	if g.phone.IsBusy() {
		g.sendChunked(context.Background(), m.ChannelID, busyNotice)
		return
	}

	g.beginTyping(m.ChannelID)
	defer g.endTyping(m.ChannelID)

	before := g.phone.Store().MessageCount(characterID)
	if err := g.phone.SendUserMessage(context.Background(), characterID, content); err != nil {
		logger.WarnCF("discord", "Send failed", map[string]interface{}{
			"character_id": characterID,
			"error":        err.Error(),
		})
		g.sendChunked(context.Background(), m.ChannelID, fmt.Sprintf("出错了：%v", err))
		return
	}

	// The reply is committed synchronously; everything past the user
	// turn we just appended is assistant output to relay.
	msgs := g.phone.GetConversation(characterID)
	for i := before + 1; i < len(msgs); i++ {
		if msgs[i].Role != store.RoleAssistant {
			continue
		}
		g.sendChunked(context.Background(), m.ChannelID, msgs[i].Content)
	}
}

func (g *DiscordGateway) sendChunked(ctx context.Context, channelID, content string) {
	for _, chunk := range splitMessage(content, chunkLimit) {
		if err := g.sendOne(ctx, channelID, chunk); err != nil {
			logger.ErrorCF("discord", "Relay failed", map[string]interface{}{
				"channel_id": channelID,
				"error":      err.Error(),
			})
			return
		}
	}
}

func (g *DiscordGateway) sendOne(ctx context.Context, channelID, content string) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := g.session.ChannelMessageSend(channelID, content)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-sendCtx.Done():
		return fmt.Errorf("send timeout: %w", sendCtx.Err())
	}
}

// splitMessage breaks long text into rune-safe chunks, preferring to
// split at a newline near the limit.
func splitMessage(content string, limit int) []string {
	runes := []rune(content)
	if len(runes) == 0 {
		return nil
	}
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, string(runes))
			break
		}
		end := limit
		for i := limit - 1; i >= limit-200 && i > 0; i-- {
			if runes[i] == '\n' {
				end = i
				break
			}
		}
		chunks = append(chunks, strings.TrimSpace(string(runes[:end])))
		runes = runes[end:]
		for len(runes) > 0 && (runes[0] == '\n' || runes[0] == ' ') {
			runes = runes[1:]
		}
	}
	return chunks
}

func (g *DiscordGateway) sendTyping(channelID string) {
	if err := g.session.ChannelTyping(channelID); err != nil {
		logger.DebugCF("discord", "Typing indicator failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (g *DiscordGateway) beginTyping(channelID string) {
	g.typingMu.Lock()
	if _, ok := g.typing[channelID]; ok {
		g.typingMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.typing[channelID] = cancel
	g.typingMu.Unlock()

	g.sendTyping(channelID)

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !g.isRunning() {
					return
				}
				g.sendTyping(channelID)
			}
		}
	}()
}

func (g *DiscordGateway) endTyping(channelID string) {
	g.typingMu.Lock()
	defer g.typingMu.Unlock()
	if cancel, ok := g.typing[channelID]; ok {
		cancel()
		delete(g.typing, channelID)
	}
}

func (g *DiscordGateway) stopAllTyping() {
	g.typingMu.Lock()
	defer g.typingMu.Unlock()
	for id, cancel := range g.typing {
		cancel()
		delete(g.typing, id)
	}
}
