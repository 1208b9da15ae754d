// Package nostr is the Nostr channel adapter. Conversations are NIP-04
// encrypted direct messages (kind 4); each peer pubkey is its own
// channel id. Relay subscriptions run in the background and feed a
// buffered queue drained by the session aggregator.
package nostr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	gonostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
	"github.com/al-munazzim/cobot/pkg/models"
)

var defaultRelays = []string{
	"wss://relay.damus.io",
	"wss://relay.primal.net",
	"wss://nos.lol",
	"wss://relay.nostr.band",
	"wss://nostr.wine",
	"wss://nostr.mom",
}

const queueSize = 100

// identityFile is the JSON shape of a stored Nostr identity.
type identityFile struct {
	Nsec string `json:"nsec"`
}

type Plugin struct {
	logger *slog.Logger

	nsec         string
	relays       []string
	sinceMinutes int

	sk string // private key, hex
	pk string // public key, hex

	messages chan models.IncomingMessage
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu   sync.Mutex
	seen map[string]bool // event ids already queued (relays overlap)

	defaultPeer string
}

func New(logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{
		logger:   logger.With("plugin", "nostr"),
		messages: make(chan models.IncomingMessage, queueSize),
		seen:     map[string]bool{},
	}
}

func (p *Plugin) PluginMeta() plugin.Meta {
	return plugin.Meta{
		ID:           "nostr",
		Version:      "1.0.0",
		Capabilities: []string{plugin.CapCommunication},
		Dependencies: []string{"session"},
		Priority:     25,
		Implements: []string{
			plugin.PointSessionReceive,
			plugin.PointSessionSend,
		},
	}
}

// Configure resolves the secret key: NOSTR_NSEC env, then config, then
// the identity file.
func (p *Plugin) Configure(cfg *config.Config) error {
	p.nsec = os.Getenv("NOSTR_NSEC")
	if p.nsec == "" {
		p.nsec = cfg.Nostr.Nsec
	}
	if p.nsec == "" && cfg.Nostr.IdentityFile != "" {
		data, err := os.ReadFile(cfg.Nostr.IdentityFile)
		if err != nil {
			p.logger.Warn("identity file unreadable", "path", cfg.Nostr.IdentityFile, "error", err)
		} else {
			var identity identityFile
			if err := json.Unmarshal(data, &identity); err != nil {
				p.logger.Warn("identity file invalid", "path", cfg.Nostr.IdentityFile, "error", err)
			} else {
				p.nsec = identity.Nsec
			}
		}
	}

	p.relays = cfg.Nostr.Relays
	if len(p.relays) == 0 {
		p.relays = defaultRelays
	}
	p.sinceMinutes = cfg.Nostr.SinceMinutes
	if p.sinceMinutes <= 0 {
		p.sinceMinutes = 5
	}
	return nil
}

// Start derives keys and opens one subscription loop per relay. A
// missing key disables the adapter without failing startup.
func (p *Plugin) Start(ctx context.Context) error {
	if p.nsec == "" {
		p.logger.Warn("NOSTR_NSEC not set, nostr disabled")
		return nil
	}

	sk := p.nsec
	if prefix, value, err := nip19.Decode(p.nsec); err == nil && prefix == "nsec" {
		sk = value.(string)
	}
	pk, err := gonostr.GetPublicKey(sk)
	if err != nil {
		return fmt.Errorf("nostr: derive public key: %w", err)
	}
	p.sk, p.pk = sk, pk

	if npub, err := nip19.EncodePublicKey(pk); err == nil {
		p.logger.Info("identity", "npub", npub)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	for _, url := range p.relays {
		p.wg.Add(1)
		go p.subscribeLoop(runCtx, url)
	}
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// subscribeLoop holds a subscription to one relay, reconnecting with a
// fixed backoff. Each received DM is decrypted and queued once across
// all relays.
func (p *Plugin) subscribeLoop(ctx context.Context, url string) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.subscribeOnce(ctx, url); err != nil && ctx.Err() == nil {
			p.logger.Warn("relay connection lost", "relay", url, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
		}
	}
}

func (p *Plugin) subscribeOnce(ctx context.Context, url string) error {
	relay, err := gonostr.RelayConnect(ctx, url)
	if err != nil {
		return err
	}
	defer relay.Close()

	since := gonostr.Timestamp(time.Now().Add(-time.Duration(p.sinceMinutes) * time.Minute).Unix())
	sub, err := relay.Subscribe(ctx, gonostr.Filters{{
		Kinds: []int{gonostr.KindEncryptedDirectMessage},
		Tags:  gonostr.TagMap{"p": []string{p.pk}},
		Since: &since,
		Limit: 100,
	}})
	if err != nil {
		return err
	}
	defer sub.Unsub()

	p.logger.Debug("subscribed", "relay", url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-sub.Events:
			if !ok {
				return fmt.Errorf("subscription closed")
			}
			p.handleEvent(event)
		}
	}
}

func (p *Plugin) handleEvent(event *gonostr.Event) {
	if event == nil || event.PubKey == p.pk {
		return
	}

	p.mu.Lock()
	if p.seen[event.ID] {
		p.mu.Unlock()
		return
	}
	p.seen[event.ID] = true
	p.mu.Unlock()

	shared, err := nip04.ComputeSharedSecret(event.PubKey, p.sk)
	if err != nil {
		p.logger.Warn("shared secret failed", "pubkey", event.PubKey, "error", err)
		return
	}
	plaintext, err := nip04.Decrypt(event.Content, shared)
	if err != nil {
		p.logger.Warn("dm decrypt failed", "event", event.ID, "error", err)
		return
	}

	p.mu.Lock()
	p.defaultPeer = event.PubKey
	p.mu.Unlock()

	msg := models.IncomingMessage{
		ID:          event.ID,
		ChannelType: "nostr",
		ChannelID:   event.PubKey,
		SenderID:    event.PubKey,
		SenderName:  shortNpub(event.PubKey),
		Content:     plaintext,
		Timestamp:   event.CreatedAt.Time(),
	}
	select {
	case p.messages <- msg:
	default:
		p.logger.Warn("message queue full, dropping", "event", event.ID)
	}
}

func shortNpub(pk string) string {
	npub, err := nip19.EncodePublicKey(pk)
	if err != nil {
		return pk
	}
	if len(npub) > 16 {
		return npub[:16]
	}
	return npub
}

// Receive implements session.receive by draining the queue.
func (p *Plugin) Receive(ctx context.Context) ([]models.IncomingMessage, error) {
	var out []models.IncomingMessage
	for {
		select {
		case msg := <-p.messages:
			out = append(out, msg)
		default:
			return out, nil
		}
	}
}

// Send implements session.send: encrypt to the peer and publish to
// every relay. Delivery counts as success when at least one relay
// accepts the event.
func (p *Plugin) Send(ctx context.Context, msg models.OutgoingMessage) error {
	if p.sk == "" {
		return fmt.Errorf("nostr: not initialized")
	}

	recipient := msg.ChannelID
	if prefix, value, err := nip19.Decode(recipient); err == nil && prefix == "npub" {
		recipient = value.(string)
	}

	shared, err := nip04.ComputeSharedSecret(recipient, p.sk)
	if err != nil {
		return fmt.Errorf("nostr: shared secret: %w", err)
	}
	ciphertext, err := nip04.Encrypt(msg.Content, shared)
	if err != nil {
		return fmt.Errorf("nostr: encrypt: %w", err)
	}

	event := gonostr.Event{
		PubKey:    p.pk,
		CreatedAt: gonostr.Now(),
		Kind:      gonostr.KindEncryptedDirectMessage,
		Tags:      gonostr.Tags{{"p", recipient}},
		Content:   ciphertext,
	}
	if err := event.Sign(p.sk); err != nil {
		return fmt.Errorf("nostr: sign: %w", err)
	}

	published := 0
	for _, url := range p.relays {
		relay, err := gonostr.RelayConnect(ctx, url)
		if err != nil {
			p.logger.Debug("relay connect failed", "relay", url, "error", err)
			continue
		}
		if err := relay.Publish(ctx, event); err != nil {
			p.logger.Debug("publish failed", "relay", url, "error", err)
		} else {
			published++
		}
		relay.Close()
	}
	if published == 0 {
		return fmt.Errorf("nostr: no relay accepted the event")
	}
	return nil
}

// DefaultChannelID nominates the most recent DM peer for broadcasts.
func (p *Plugin) DefaultChannelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.defaultPeer
}
