package driver

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/herald/pkg/automation/selectors"
)

// Manager owns the long-lived Playwright process. It is constructed once at
// startup and hands out one Session per workflow run; the browser process
// itself is shared, sessions are not.
type Manager struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	cfg         Config
	registry    *selectors.Registry
	logger      *slog.Logger
	initialized bool
}

// NewManager installs (if needed) and starts the Playwright runtime.
func NewManager(cfg Config, registry *selectors.Registry, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return nil, fmt.Errorf("install playwright: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	return &Manager{
		pw:          pw,
		cfg:         cfg.withDefaults(),
		registry:    registry,
		logger:      logger.With("component", "driver"),
		initialized: true,
	}, nil
}

// NewSession launches a browser, creates an isolated context (restoring
// persisted session state when available), and returns a ready Session.
// The caller owns the Session and must Close it on every exit path.
func (m *Manager) NewSession() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("driver manager is shut down")
	}
	return newSession(m.pw, m.cfg, m.registry, m.logger)
}

// Shutdown stops the Playwright runtime. Sessions must be closed first.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil
	}
	m.initialized = false
	if err := m.pw.Stop(); err != nil {
		return fmt.Errorf("stop playwright: %w", err)
	}
	return nil
}
