// Package session aggregates channel adapters behind a single
// communication surface. It defines the session.* extension points that
// channel plugins implement and routes outgoing traffic by channel
// type.
package session

import (
	"context"
	"log/slog"
	"sort"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
	"github.com/al-munazzim/cobot/pkg/models"
)

// Receiver drains a channel adapter's queue of new messages. One call
// per adapter per poll cycle; the aggregator serializes calls so the
// adapter's update cursor needs no locking against the poll path.
type Receiver interface {
	Receive(ctx context.Context) ([]models.IncomingMessage, error)
}

// Sender delivers an outgoing message on a channel adapter.
type Sender interface {
	Send(ctx context.Context, msg models.OutgoingMessage) error
}

// Typist shows a typing indicator on a channel.
type Typist interface {
	Typing(ctx context.Context, channelID string) error
}

// PresenceSetter publishes an online/offline status.
type PresenceSetter interface {
	SetPresence(ctx context.Context, status string) error
}

// ReceiveObserver is notified of every polled message before the
// orchestrator sees it. Observation is side-effect only.
type ReceiveObserver interface {
	ObserveReceived(msg models.IncomingMessage)
}

// SendObserver is notified after an adapter confirms a send.
type SendObserver interface {
	ObserveSent(msg models.OutgoingMessage)
}

// Defaulter lets an adapter nominate a channel id for broadcasts.
type Defaulter interface {
	DefaultChannelID() string
}

// Plugin is the session aggregator. It implements communication.* on
// top of the session.* points.
type Plugin struct {
	registry *plugin.Registry
	logger   *slog.Logger
}

func New(registry *plugin.Registry, logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{
		registry: registry,
		logger:   logger.With("plugin", "session"),
	}
}

func (p *Plugin) PluginMeta() plugin.Meta {
	return plugin.Meta{
		ID:           "session",
		Version:      "1.0.0",
		Capabilities: []string{plugin.CapCommunication},
		Priority:     10,
		ExtensionPoints: []string{
			plugin.PointSessionReceive,
			plugin.PointSessionSend,
			plugin.PointSessionTyping,
			plugin.PointSessionPresence,
			plugin.PointSessionOnReceive,
			plugin.PointSessionOnSend,
		},
	}
}

func (p *Plugin) Configure(cfg *config.Config) error { return nil }

func (p *Plugin) Start(ctx context.Context) error {
	channels := p.Channels()
	if len(channels) == 0 {
		p.logger.Warn("no channels registered")
	} else {
		p.logger.Info("channels registered", "channels", channels)
	}
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return nil }

// Poll drains every channel implementing session.receive, stamps the
// channel type when the adapter left it empty, notifies receive
// observers, and returns the combined list sorted by timestamp
// ascending. Adapter errors are absorbed so one broken channel cannot
// starve the rest.
func (p *Plugin) Poll(ctx context.Context) []models.IncomingMessage {
	var messages []models.IncomingMessage

	for _, impl := range p.registry.Implementations(plugin.PointSessionReceive) {
		receiver, ok := impl.(Receiver)
		if !ok {
			continue
		}
		id := impl.PluginMeta().ID
		polled, err := receiver.Receive(ctx)
		if err != nil {
			p.logger.Error("poll failed", "channel", id, "error", err)
			continue
		}
		for _, msg := range polled {
			if msg.ChannelType == "" {
				msg.ChannelType = id
			}
			messages = append(messages, msg)
		}
	}

	for _, msg := range messages {
		p.notifyReceived(msg)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	return messages
}

// Send routes the message to the channel whose plugin id matches the
// message's channel type. Observers fire only on confirmed delivery.
func (p *Plugin) Send(ctx context.Context, msg models.OutgoingMessage) bool {
	for _, impl := range p.registry.Implementations(plugin.PointSessionSend) {
		if impl.PluginMeta().ID != msg.ChannelType {
			continue
		}
		sender, ok := impl.(Sender)
		if !ok {
			continue
		}
		if err := sender.Send(ctx, msg); err != nil {
			p.logger.Error("send failed", "channel", msg.ChannelType, "error", err)
			return false
		}
		p.notifySent(msg)
		return true
	}
	p.logger.Warn("no channel for type", "channel_type", msg.ChannelType)
	return false
}

// Typing shows a typing indicator on the matching channel. Errors are
// absorbed; the indicator is best effort.
func (p *Plugin) Typing(ctx context.Context, channelType, channelID string) {
	for _, impl := range p.registry.Implementations(plugin.PointSessionTyping) {
		if impl.PluginMeta().ID != channelType {
			continue
		}
		typist, ok := impl.(Typist)
		if !ok {
			return
		}
		if err := typist.Typing(ctx, channelID); err != nil {
			p.logger.Debug("typing failed", "channel", channelType, "error", err)
		}
		return
	}
}

// Presence publishes a status on every channel that supports it.
func (p *Plugin) Presence(ctx context.Context, status string) {
	for _, impl := range p.registry.Implementations(plugin.PointSessionPresence) {
		setter, ok := impl.(PresenceSetter)
		if !ok {
			continue
		}
		if err := setter.SetPresence(ctx, status); err != nil {
			p.logger.Debug("presence failed", "channel", impl.PluginMeta().ID, "error", err)
		}
	}
}

// Broadcast sends content to every channel's default channel id,
// skipping the excluded channel type. Returns how many sends succeeded.
func (p *Plugin) Broadcast(ctx context.Context, content, excludeChannel string) int {
	sent := 0
	for _, impl := range p.registry.Implementations(plugin.PointSessionSend) {
		id := impl.PluginMeta().ID
		if id == excludeChannel {
			continue
		}
		defaulter, ok := impl.(Defaulter)
		if !ok || defaulter.DefaultChannelID() == "" {
			continue
		}
		ok = p.Send(ctx, models.OutgoingMessage{
			ChannelType: id,
			ChannelID:   defaulter.DefaultChannelID(),
			Content:     content,
		})
		if ok {
			sent++
		}
	}
	return sent
}

// Channels returns the plugin ids providing session.receive.
func (p *Plugin) Channels() []string {
	var out []string
	for _, impl := range p.registry.Implementations(plugin.PointSessionReceive) {
		out = append(out, impl.PluginMeta().ID)
	}
	return out
}

func (p *Plugin) notifyReceived(msg models.IncomingMessage) {
	for _, impl := range p.registry.Implementations(plugin.PointSessionOnReceive) {
		observer, ok := impl.(ReceiveObserver)
		if !ok {
			continue
		}
		observer.ObserveReceived(msg)
	}
}

func (p *Plugin) notifySent(msg models.OutgoingMessage) {
	for _, impl := range p.registry.Implementations(plugin.PointSessionOnSend) {
		observer, ok := impl.(SendObserver)
		if !ok {
			continue
		}
		observer.ObserveSent(msg)
	}
}
