// Package autosave persists the state tree on a cron schedule. Saves
// are idempotent last-write-wins, so an autosave racing a user-driven
// save is harmless.
package autosave

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/minetta-labs/palmchat/pkg/config"
	"github.com/minetta-labs/palmchat/pkg/logger"
	"github.com/minetta-labs/palmchat/pkg/store"
)

// Saver runs the periodic save loop.
type Saver struct {
	cfg   config.AutosaveConfig
	store *store.Store
}

// New validates the schedule and builds a saver. A disabled config
// still returns a saver; Run exits immediately in that case.
func New(cfg config.AutosaveConfig, st *store.Store) (*Saver, error) {
	if cfg.Enabled {
		if !gronx.New().IsValid(cfg.Schedule) {
			return nil, fmt.Errorf("invalid autosave schedule %q", cfg.Schedule)
		}
	}
	return &Saver{cfg: cfg, store: st}, nil
}

// Run blocks until ctx is done, saving at every schedule tick. Save
// failures are logged and the loop keeps going.
func (s *Saver) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	logger.InfoCF("autosave", "Autosave started", map[string]interface{}{
		"schedule": s.cfg.Schedule,
	})

	for {
		next, err := gronx.NextTick(s.cfg.Schedule, false)
		if err != nil {
			logger.ErrorCF("autosave", "Schedule evaluation failed", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.store.Save(); err != nil {
			logger.WarnCF("autosave", "Autosave failed", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		logger.DebugC("autosave", "State saved")
	}
}
