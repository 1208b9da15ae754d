package pairing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
	"github.com/al-munazzim/cobot/pkg/models"
)

// messageSender is the slice of the session aggregator the gate needs
// to deliver the out-of-band pairing instructions.
type messageSender interface {
	Send(ctx context.Context, msg models.OutgoingMessage) bool
}

// Plugin enforces the authorization gate on on_message_received. It
// runs at the earliest priority so unauthorized traffic never reaches
// the LLM path.
type Plugin struct {
	logger *slog.Logger
	sender messageSender

	enabled      bool
	ownerIDs     map[string][]string
	skipChannels []string
	store        *Store
	storePath    string
}

func New(sender messageSender, logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{
		logger: logger.With("plugin", "pairing"),
		sender: sender,
	}
}

func (p *Plugin) PluginMeta() plugin.Meta {
	return plugin.Meta{
		ID:           "pairing",
		Version:      "1.0.0",
		Capabilities: []string{plugin.CapPairing},
		Priority:     5,
	}
}

func (p *Plugin) Configure(cfg *config.Config) error {
	p.enabled = cfg.Pairing.Enabled
	p.ownerIDs = cfg.Pairing.OwnerIDs
	p.skipChannels = cfg.Pairing.SkipChannels
	p.storePath = cfg.PairingStorePath()
	return nil
}

// Start opens the store and bootstraps every configured owner as
// authorized. Owners inserted here can only be revoked via the CLI.
func (p *Plugin) Start(ctx context.Context) error {
	if !p.enabled {
		p.logger.Info("disabled")
		return nil
	}
	p.store = NewStore(p.storePath)

	for channel, userIDs := range p.ownerIDs {
		for _, userID := range userIDs {
			if err := p.store.AddAuthorized(channel, userID, "owner:"+userID); err != nil {
				return fmt.Errorf("bootstrap owner %s:%s: %w", channel, userID, err)
			}
		}
	}

	p.logger.Info("ready",
		"authorized", len(p.store.Authorized()),
		"pending", len(p.store.Pending()))
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return nil }

// Store exposes the trust store for the operator CLI.
func (p *Plugin) Store() *Store { return p.store }

// OnMessageReceived gates the message. Unauthorized senders get a
// pairing code out-of-band and the chain aborts before any LLM work.
func (p *Plugin) OnMessageReceived(hc *plugin.HookContext) error {
	if !p.enabled || p.store == nil {
		return nil
	}

	channel := hc.ChannelType
	userID := hc.SenderID
	if channel == "" || userID == "" {
		return nil
	}
	for _, skip := range p.skipChannels {
		if channel == skip {
			return nil
		}
	}

	if p.store.IsAuthorized(channel, userID) {
		return nil
	}

	name := hc.Sender
	if name == "" {
		name = "unknown"
	}
	req, err := p.store.AddPending(channel, userID, name)
	if err != nil {
		return fmt.Errorf("add pending: %w", err)
	}

	p.sendPairingMessage(channel, hc.ChannelID, userID, req.Code)
	p.logger.Warn("unauthorized sender",
		"sender", name,
		"channel", channel,
		"user_id", userID,
		"code", req.Code)

	hc.Abort = true
	return nil
}

func (p *Plugin) sendPairingMessage(channel, channelID, userID, code string) {
	message := fmt.Sprintf(
		"Access not configured.\n"+
			"Your %s user id: %s\n"+
			"Pairing code: %s\n\n"+
			"Ask the bot owner to approve with:\n"+
			"  cobot pairing approve %s",
		titleCase(channel), userID, code, code)

	if p.sender == nil {
		p.logger.Warn("no sender available for pairing message", "user_id", userID)
		return
	}
	p.sender.Send(context.Background(), models.OutgoingMessage{
		ChannelType: channel,
		ChannelID:   channelID,
		Content:     message,
	})
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
