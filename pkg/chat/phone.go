package chat

import (
	"context"
	"sync/atomic"

	"github.com/minetta-labs/palmchat/pkg/bus"
	"github.com/minetta-labs/palmchat/pkg/config"
	"github.com/minetta-labs/palmchat/pkg/logger"
	"github.com/minetta-labs/palmchat/pkg/providers"
	"github.com/minetta-labs/palmchat/pkg/store"
)

// Completer is the single external dependency shared by the
// orchestrator, the memory compressor and the derived-content
// generator.
type Completer interface {
	Chat(ctx context.Context, req providers.Request) (*providers.Completion, error)
	ListModels(ctx context.Context, baseURL, apiKey string) ([]string, error)
}

// Recorder mirrors committed messages into the archive. Archive
// failures are advisory and must never block a conversation.
type Recorder interface {
	Record(characterID string, msg store.Message) error
}

// Phone is the core the UI layer talks to: it owns conversation
// orchestration, derived content, memory compression and the
// state-changed notifications.
type Phone struct {
	cfg        *config.Config
	store      *store.Store
	client     Completer
	bus        *bus.Bus
	archive    Recorder
	classifier *Classifier

	sending atomic.Bool

	// async launches background work (auto moments/diary). Replaced
	// with a synchronous runner in tests.
	async func(fn func())
}

// New wires the phone core. archive may be nil.
func New(cfg *config.Config, st *store.Store, client Completer, notifier *bus.Bus, archive Recorder) *Phone {
	return &Phone{
		cfg:        cfg,
		store:      st,
		client:     client,
		bus:        notifier,
		archive:    archive,
		classifier: NewClassifier(cfg.Intents),
		async:      func(fn func()) { go fn() },
	}
}

// Store exposes the underlying state store for read access by the UI.
func (p *Phone) Store() *store.Store { return p.store }

// Bus exposes the notification bus for UI subscriptions.
func (p *Phone) Bus() *bus.Bus { return p.bus }

// Classifier exposes the intent classifier (pure, safe to share).
func (p *Phone) Classifier() *Classifier { return p.classifier }

// IsBusy reports whether an assistant reply is in flight. The UI uses
// this to refuse a second send instead of queuing it.
func (p *Phone) IsBusy() bool { return p.sending.Load() }

// GetConversation returns a copy of the character's message log,
// creating the conversation on first access.
func (p *Phone) GetConversation(characterID string) []store.Message {
	return p.store.Messages(characterID)
}

// DeleteMessage removes a message by index; silent no-op out of range.
func (p *Phone) DeleteMessage(characterID string, index int) {
	if p.store.DeleteMessage(characterID, index) {
		p.bus.Publish(bus.Event{Kind: bus.KindConversation, CharacterID: characterID})
		p.saveSilent()
	}
}

// ToggleStar flips a message star by index; silent no-op out of
// range. The toggled message is re-recorded so the archive's starred
// column tracks the live log.
func (p *Phone) ToggleStar(characterID string, index int) {
	if p.store.ToggleStar(characterID, index) {
		if msg, ok := p.store.MessageAt(characterID, index); ok {
			p.record(characterID, msg)
		}
		p.bus.Publish(bus.Event{Kind: bus.KindConversation, CharacterID: characterID})
		p.saveSilent()
	}
}

// MomentFromMessage republishes a conversation message to the feed.
func (p *Phone) MomentFromMessage(characterID string, index int) bool {
	_, ok := p.store.MomentFromMessage(characterID, index)
	if ok {
		p.bus.Publish(bus.Event{Kind: bus.KindMoments})
		p.saveSilent()
	}
	return ok
}

// PostUserMoment publishes a user-authored feed post.
func (p *Phone) PostUserMoment(text string) store.Moment {
	m := p.store.AddMoment(store.Moment{
		AuthorType: store.AuthorUser,
		AuthorID:   p.store.CurrentUserProfileID(),
		Content:    text,
	})
	p.bus.Publish(bus.Event{Kind: bus.KindMoments})
	p.saveSilent()
	return m
}

// ListModels queries the configured endpoint for available models.
func (p *Phone) ListModels(ctx context.Context) ([]string, error) {
	if p.cfg.API.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	return p.client.ListModels(ctx, p.cfg.API.BaseURL, p.cfg.API.APIKey)
}

// saveSilent persists the state tree, logging failures without
// touching in-memory state. Persistence is idempotent last-write-wins,
// so redundant calls are harmless.
func (p *Phone) saveSilent() {
	if err := p.store.Save(); err != nil {
		logger.WarnCF("store", "Silent save failed", map[string]interface{}{"error": err.Error()})
	}
}

// record mirrors a committed message into the archive, if any.
func (p *Phone) record(characterID string, msg store.Message) {
	if p.archive == nil {
		return
	}
	if err := p.archive.Record(characterID, msg); err != nil {
		logger.WarnCF("archive", "Archive write failed", map[string]interface{}{"error": err.Error()})
	}
}
