// Package persistence stores per-peer conversation history in SQLite
// and feeds it back through the context.history extension point.
// Disabled by default; `cobot run --continue` turns it on.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
	"github.com/al-munazzim/cobot/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	peer    TEXT    NOT NULL,
	role    TEXT    NOT NULL,
	content TEXT    NOT NULL,
	ts      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_peer ON messages(peer, id);
`

type Plugin struct {
	logger *slog.Logger

	enabled bool
	path    string
	db      *sql.DB

	now func() time.Time
}

func New(logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{
		logger: logger.With("plugin", "persistence"),
		now:    time.Now,
	}
}

func (p *Plugin) PluginMeta() plugin.Meta {
	return plugin.Meta{
		ID:           "persistence",
		Version:      "1.0.0",
		Capabilities: []string{plugin.CapPersistence},
		Dependencies: []string{"workspace"},
		Priority:     15,
		Implements:   []string{plugin.PointHistory},
	}
}

func (p *Plugin) Configure(cfg *config.Config) error {
	p.enabled = cfg.Persistence.Enabled
	p.path = cfg.Persistence.Path
	if p.path == "" {
		p.path = filepath.Join(cfg.WorkspaceDir(), "memory", "conversations.db")
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	if !p.enabled {
		p.logger.Info("disabled (use --continue to load history)")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	db, err := sql.Open("sqlite", p.path)
	if err != nil {
		return fmt.Errorf("open conversation db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("migrate conversation db: %w", err)
	}
	p.db = db
	p.logger.Info("conversation db ready", "path", p.path)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

func (p *Plugin) record(peer, role, content string) {
	if p.db == nil || peer == "" || content == "" {
		return
	}
	_, err := p.db.Exec(
		`INSERT INTO messages (peer, role, content, ts) VALUES (?, ?, ?, ?)`,
		peer, role, content, p.now().Unix())
	if err != nil {
		p.logger.Error("record failed", "peer", peer, "error", err)
	}
}

// OnMessageReceived records the incoming user turn.
func (p *Plugin) OnMessageReceived(hc *plugin.HookContext) error {
	if p.enabled {
		p.record(hc.Sender, models.RoleUser, hc.Message)
	}
	return nil
}

// OnAfterSend records the delivered assistant turn.
func (p *Plugin) OnAfterSend(hc *plugin.HookContext) error {
	if p.enabled {
		p.record(hc.Recipient, models.RoleAssistant, hc.Text)
	}
	return nil
}

// HistoryContribution implements context.history: everything stored for
// the peer except the newest turn, which is the message currently being
// answered.
func (p *Plugin) HistoryContribution(peer string) []models.ChatMessage {
	if p.db == nil || peer == "" {
		return nil
	}

	rows, err := p.db.Query(
		`SELECT role, content FROM messages WHERE peer = ? ORDER BY id`, peer)
	if err != nil {
		p.logger.Error("history query failed", "peer", peer, "error", err)
		return nil
	}
	defer rows.Close()

	var history []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			p.logger.Error("history scan failed", "peer", peer, "error", err)
			return nil
		}
		history = append(history, m)
	}
	if err := rows.Err(); err != nil {
		p.logger.Error("history read failed", "peer", peer, "error", err)
		return nil
	}

	if len(history) == 0 {
		return nil
	}
	return history[:len(history)-1]
}
