// Package filedrop is the file-based channel adapter, a fallback for
// when relays or bot APIs are unreachable. Each agent owns a directory
// under a shared base dir; messages are JSON files dropped into the
// recipient's inbox and moved to processed/ once read.
package filedrop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
	"github.com/al-munazzim/cobot/pkg/models"
)

const defaultBaseDir = "/tmp/filedrop"

// envelope is the on-disk message format.
type envelope struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	SentAt    string `json:"sent_at,omitempty"`
}

type Plugin struct {
	logger *slog.Logger

	baseDir  string
	identity string
	inbox    string
	outbox   string

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	mu        sync.Mutex
	processed map[string]bool
	pending   bool // watcher saw activity since the last scan

	now func() time.Time
}

func New(logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{
		logger:    logger.With("plugin", "filedrop"),
		processed: map[string]bool{},
		pending:   true, // force the first scan to pick up backlog
		now:       time.Now,
	}
}

func (p *Plugin) PluginMeta() plugin.Meta {
	return plugin.Meta{
		ID:           "filedrop",
		Version:      "1.0.0",
		Capabilities: []string{plugin.CapCommunication},
		Dependencies: []string{"session"},
		Priority:     24,
		Implements: []string{
			plugin.PointSessionReceive,
			plugin.PointSessionSend,
		},
	}
}

func (p *Plugin) Configure(cfg *config.Config) error {
	p.baseDir = cfg.Filedrop.BaseDir
	if p.baseDir == "" {
		p.baseDir = defaultBaseDir
	}
	p.identity = cfg.Identity.Name
	if p.identity == "" {
		p.identity = "agent"
	}
	p.inbox = filepath.Join(p.baseDir, p.identity, "inbox")
	p.outbox = filepath.Join(p.baseDir, p.identity, "outbox")
	return nil
}

// Start creates the directory layout and begins watching the inbox.
// Watch failures degrade to scan-only mode; Receive always scans when
// the pending flag is set.
func (p *Plugin) Start(ctx context.Context) error {
	for _, dir := range []string{p.inbox, p.outbox} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("filedrop: create %s: %w", dir, err)
		}
	}
	// The base dir is shared between agents that may run as different
	// users.
	os.Chmod(p.baseDir, 0o777)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Warn("inbox watch unavailable, scanning only", "error", err)
		return nil
	}
	if err := watcher.Add(p.inbox); err != nil {
		watcher.Close()
		p.logger.Warn("inbox watch unavailable, scanning only", "error", err)
		return nil
	}
	p.watcher = watcher

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.watch(runCtx)

	p.logger.Info("inbox ready", "path", p.inbox)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}

func (p *Plugin) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				p.mu.Lock()
				p.pending = true
				p.mu.Unlock()
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("inbox watch error", "error", err)
		}
	}
}

// Receive implements session.receive. The inbox is scanned when the
// watcher flagged activity, and always on the first call; consumed
// files move to processed/ so crashed runs never replay them.
func (p *Plugin) Receive(ctx context.Context) ([]models.IncomingMessage, error) {
	p.mu.Lock()
	scan := p.pending || p.watcher == nil
	p.pending = false
	p.mu.Unlock()
	if !scan {
		return nil, nil
	}
	return p.scanInbox()
}

func (p *Plugin) scanInbox() ([]models.IncomingMessage, error) {
	entries, err := os.ReadDir(p.inbox)
	if err != nil {
		return nil, fmt.Errorf("filedrop: read inbox: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	processedDir := filepath.Join(filepath.Dir(p.inbox), "processed")
	var out []models.IncomingMessage
	for _, name := range names {
		p.mu.Lock()
		seen := p.processed[name]
		p.processed[name] = true
		p.mu.Unlock()
		if seen {
			continue
		}

		path := filepath.Join(p.inbox, name)
		data, err := os.ReadFile(path)
		if err != nil {
			p.logger.Warn("inbox read failed", "file", name, "error", err)
			continue
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			p.logger.Warn("inbox file invalid", "file", name, "error", err)
			continue
		}

		if env.ID == "" {
			env.ID = strings.TrimSuffix(name, ".json")
		}
		if env.From == "" {
			env.From = "unknown"
		}
		ts := time.Unix(env.Timestamp, 0)
		if env.Timestamp == 0 {
			ts = p.now()
		}
		out = append(out, models.IncomingMessage{
			ID:          env.ID,
			ChannelType: "filedrop",
			ChannelID:   env.From,
			SenderID:    env.From,
			SenderName:  env.From,
			Content:     env.Content,
			Timestamp:   ts,
		})

		if err := os.MkdirAll(processedDir, 0o755); err == nil {
			if err := os.Rename(path, filepath.Join(processedDir, name)); err != nil {
				p.logger.Warn("inbox move failed", "file", name, "error", err)
			}
		}
	}
	return out, nil
}

// Send implements session.send by dropping a JSON file into the
// recipient's inbox. The recipient is an agent name under the base dir,
// or a full inbox path. A copy lands in our outbox for debugging.
func (p *Plugin) Send(ctx context.Context, msg models.OutgoingMessage) error {
	recipientInbox := msg.ChannelID
	if !strings.Contains(recipientInbox, string(os.PathSeparator)) {
		recipientInbox = filepath.Join(p.baseDir, msg.ChannelID, "inbox")
	}
	if err := os.MkdirAll(recipientInbox, 0o755); err != nil {
		return fmt.Errorf("filedrop: recipient inbox %s: %w", recipientInbox, err)
	}

	now := p.now()
	msgID := fmt.Sprintf("%d_%s", now.Unix(), uuid.NewString()[:8])
	env := envelope{
		ID:        msgID,
		From:      p.identity,
		To:        msg.ChannelID,
		Content:   msg.Content,
		Timestamp: now.Unix(),
		SentAt:    now.UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("filedrop: marshal: %w", err)
	}

	name := msgID + ".json"
	if err := os.WriteFile(filepath.Join(recipientInbox, name), data, 0o644); err != nil {
		return fmt.Errorf("filedrop: write message: %w", err)
	}
	if err := os.WriteFile(filepath.Join(p.outbox, name), data, 0o644); err != nil {
		p.logger.Warn("outbox copy failed", "file", name, "error", err)
	}

	p.logger.Debug("sent", "recipient", msg.ChannelID, "id", msgID)
	return nil
}

// DefaultChannelID is empty: filedrop has no broadcast target until a
// peer writes first.
func (p *Plugin) DefaultChannelID() string { return "" }
