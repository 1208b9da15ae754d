// Package lurker passively observes traffic on configured channels.
// Observation never affects message processing; the bot stays active or
// silent independently. Downstream plugins attach through the
// lurker.on_observe extension point, and built-in sinks can append to
// jsonl or markdown files.
package lurker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
	"github.com/al-munazzim/cobot/pkg/models"
)

// Observation is one observed message, incoming or outgoing.
type Observation struct {
	Message     string
	ChannelID   string
	ChannelType string
	ChannelName string
	SenderID    string
	SenderName  string
	Timestamp   time.Time
	EventID     string
	Direction   string // "incoming" or "outgoing"
}

// Observer receives every observation on a lurked channel. Implemented
// by plugins declaring the lurker.on_observe extension point.
type Observer interface {
	ObserveLurked(obs Observation)
}

// Plugin observes via the session.on_receive and session.on_send
// points.
type Plugin struct {
	registry *plugin.Registry
	logger   *slog.Logger

	channels map[string]string // channel id -> display name
	sink     string
	baseDir  string

	mu     sync.Mutex
	counts map[string]int

	now func() time.Time
}

func New(registry *plugin.Registry, logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{
		registry: registry,
		logger:   logger.With("plugin", "lurker"),
		channels: map[string]string{},
		counts:   map[string]int{},
		now:      time.Now,
	}
}

func (p *Plugin) PluginMeta() plugin.Meta {
	return plugin.Meta{
		ID:           "lurker",
		Version:      "0.1.0",
		Capabilities: []string{plugin.CapLurker},
		Priority:     6,
		ExtensionPoints: []string{
			plugin.PointLurkerObserve,
		},
		Implements: []string{
			plugin.PointSessionOnReceive,
			plugin.PointSessionOnSend,
		},
	}
}

func (p *Plugin) Configure(cfg *config.Config) error {
	for _, ch := range cfg.Lurker.Channels {
		if ch.ID == "" {
			continue
		}
		name := ch.Name
		if name == "" {
			name = ch.ID
		}
		p.channels[ch.ID] = name
	}
	p.sink = cfg.Lurker.Sink
	if p.sink == "" {
		p.sink = "jsonl"
	}
	p.baseDir = cfg.Lurker.BaseDir
	if p.baseDir == "" {
		p.baseDir = "./lurker"
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	if len(p.channels) == 0 {
		p.logger.Info("no channels configured, lurking disabled")
		return nil
	}
	p.logger.Info("observing", "channels", len(p.channels), "sink", p.sink)

	if p.sink != "none" {
		if err := os.MkdirAll(p.baseDir, 0o755); err != nil {
			return fmt.Errorf("create lurker dir: %w", err)
		}
	}
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, n := range p.counts {
		total += n
	}
	if total > 0 {
		p.logger.Info("observed", "total", total)
	}
	return nil
}

func (p *Plugin) isLurked(channelID string) bool {
	_, ok := p.channels[channelID]
	return ok
}

func (p *Plugin) channelName(channelID string) string {
	if name, ok := p.channels[channelID]; ok {
		return name
	}
	return channelID
}

// ObserveReceived implements session.on_receive.
func (p *Plugin) ObserveReceived(msg models.IncomingMessage) {
	if !p.isLurked(msg.ChannelID) {
		return
	}
	p.observe(Observation{
		Message:     msg.Content,
		ChannelID:   msg.ChannelID,
		ChannelType: msg.ChannelType,
		ChannelName: p.channelName(msg.ChannelID),
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		Timestamp:   p.now().UTC(),
		EventID:     msg.ID,
		Direction:   "incoming",
	})
}

// ObserveSent implements session.on_send for the bot's own replies.
func (p *Plugin) ObserveSent(msg models.OutgoingMessage) {
	if !p.isLurked(msg.ChannelID) {
		return
	}
	p.observe(Observation{
		Message:     msg.Content,
		ChannelID:   msg.ChannelID,
		ChannelType: msg.ChannelType,
		ChannelName: p.channelName(msg.ChannelID),
		SenderID:    "self",
		SenderName:  "bot",
		Timestamp:   p.now().UTC(),
		Direction:   "outgoing",
	})
}

// observe counts, fans out to lurker.on_observe implementers, and
// appends to the built-in sink. Sink errors are absorbed.
func (p *Plugin) observe(obs Observation) {
	p.mu.Lock()
	p.counts[obs.ChannelID]++
	p.mu.Unlock()

	if p.registry != nil {
		for _, impl := range p.registry.Implementations(plugin.PointLurkerObserve) {
			observer, ok := impl.(Observer)
			if !ok {
				continue
			}
			observer.ObserveLurked(obs)
		}
	}

	var err error
	switch p.sink {
	case "jsonl":
		err = p.writeJSONL(obs)
	case "markdown":
		err = p.writeMarkdown(obs)
	}
	if err != nil {
		p.logger.Error("sink write failed", "sink", p.sink, "error", err)
	}
}

func (p *Plugin) dayDir(ts time.Time) string {
	return filepath.Join(p.baseDir, ts.Format("2006-01-02"))
}

type jsonlRecord struct {
	TS          string `json:"ts"`
	Direction   string `json:"direction"`
	Channel     string `json:"channel"`
	ChannelName string `json:"channel_name"`
	SenderID    string `json:"sender_id"`
	Sender      string `json:"sender"`
	Text        string `json:"text"`
	EventID     string `json:"event_id"`
}

func (p *Plugin) writeJSONL(obs Observation) error {
	dir := p.dayDir(obs.Timestamp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	line, err := json.Marshal(jsonlRecord{
		TS:          obs.Timestamp.Format(time.RFC3339),
		Direction:   obs.Direction,
		Channel:     obs.ChannelID,
		ChannelName: obs.ChannelName,
		SenderID:    obs.SenderID,
		Sender:      obs.SenderName,
		Text:        obs.Message,
		EventID:     obs.EventID,
	})
	if err != nil {
		return err
	}
	return appendLine(filepath.Join(dir, obs.ChannelID+".jsonl"), string(line)+"\n")
}

func (p *Plugin) writeMarkdown(obs Observation) error {
	dir := p.dayDir(obs.Timestamp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, obs.ChannelID+".md")

	// New files open with a dated header.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		header := fmt.Sprintf("# %s — %s\n\n", obs.ChannelName, obs.Timestamp.Format("2006-01-02"))
		if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
			return err
		}
	}

	sender := obs.SenderName
	if sender == "" {
		sender = obs.SenderID
	}
	prefix := ""
	if obs.Direction == "outgoing" {
		prefix = "→"
	}
	paragraph := fmt.Sprintf("%s**%s** (%s):\n%s\n\n",
		prefix, sender, obs.Timestamp.Format("2006-01-02 15:04:05"), obs.Message)
	return appendLine(path, paragraph)
}

func appendLine(path, text string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(text)
	return err
}

// Counts returns a copy of the per-channel observation counters.
func (p *Plugin) Counts() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.counts))
	for k, v := range p.counts {
		out[k] = v
	}
	return out
}
