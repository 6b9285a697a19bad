package app

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lampyd/internal/config"
	"github.com/dokzlo13/lampyd/internal/pattern"
	"github.com/dokzlo13/lampyd/internal/script"
)

// ScriptService loads Lua pattern scripts and keeps them in sync with the script directory.
type ScriptService struct {
	cfg     config.ScriptsConfig
	Engine  *script.Engine
	watcher *script.Watcher
}

// NewScriptService creates the script engine for the catalog.
func NewScriptService(cfg config.ScriptsConfig, catalog *pattern.Catalog) *ScriptService {
	engine := script.NewEngine(catalog)
	engine.SetTimeouts(cfg.LoadTimeout.Duration(), cfg.SampleTimeout.Duration())
	return &ScriptService{
		cfg:    cfg,
		Engine: engine,
	}
}

// Enabled reports whether a script directory is configured
func (s *ScriptService) Enabled() bool {
	return s.cfg.Dir != ""
}

// LoadScripts loads every script in the directory. A missing directory is not an error.
// Must be called before Start().
func (s *ScriptService) LoadScripts() error {
	if !s.Enabled() {
		return nil
	}
	if _, err := os.Stat(s.cfg.Dir); errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("dir", s.cfg.Dir).Msg("Script directory does not exist, skipping")
		return nil
	}

	n, err := s.Engine.LoadDir(s.cfg.Dir)
	if err != nil {
		return err
	}
	log.Info().Str("dir", s.cfg.Dir).Int("patterns", n).Ints("ids", s.Engine.IDs()).Msg("Pattern scripts loaded")
	return nil
}

// Start begins watching the script directory when enabled.
func (s *ScriptService) Start(ctx context.Context) {
	if !s.Enabled() || !s.cfg.Watch {
		return
	}

	s.watcher = script.NewWatcher(s.cfg.Dir, s.Engine, script.DefaultReloadDebounce)
	if err := s.watcher.Start(ctx); err != nil {
		log.Error().Err(err).Str("dir", s.cfg.Dir).Msg("Failed to watch script directory")
		s.watcher = nil
	}
}

// Close stops the watcher and closes all Lua states.
func (s *ScriptService) Close() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.Engine.Close()
}
