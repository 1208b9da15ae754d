package pairing

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
	"github.com/al-munazzim/cobot/pkg/models"
)

type fakeSender struct {
	sent []models.OutgoingMessage
}

func (f *fakeSender) Send(ctx context.Context, msg models.OutgoingMessage) bool {
	f.sent = append(f.sent, msg)
	return true
}

func newTestGate(t *testing.T, cfg *config.Config) (*Plugin, *fakeSender) {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
		cfg.Pairing.Enabled = true
	}
	if cfg.Pairing.StoragePath == "" {
		cfg.Pairing.StoragePath = filepath.Join(t.TempDir(), "pairing.yml")
	}

	sender := &fakeSender{}
	p := New(sender, nil)
	if err := p.Configure(cfg); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return p, sender
}

func TestUnauthorizedSenderIsBlocked(t *testing.T) {
	p, sender := newTestGate(t, nil)

	hc := &plugin.HookContext{
		ChannelType: "telegram",
		ChannelID:   "chat-1",
		SenderID:    "42",
		Sender:      "alice",
		Message:     "hello",
	}
	if err := p.OnMessageReceived(hc); err != nil {
		t.Fatal(err)
	}

	if !hc.Abort {
		t.Fatal("unauthorized message not aborted")
	}
	pending := p.Store().Pending()
	if len(pending) != 1 || pending[0].UserID != "42" {
		t.Fatalf("pending %v", pending)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %v", sender.sent)
	}
	msg := sender.sent[0]
	if msg.ChannelType != "telegram" || msg.ChannelID != "chat-1" {
		t.Fatalf("pairing message routed to %s:%s", msg.ChannelType, msg.ChannelID)
	}
	if !strings.Contains(msg.Content, pending[0].Code) {
		t.Fatalf("pairing message missing code: %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "cobot pairing approve") {
		t.Fatalf("pairing message missing instructions: %q", msg.Content)
	}
}

func TestRepeatedUnauthorizedMessagesReuseCode(t *testing.T) {
	p, sender := newTestGate(t, nil)

	hc := &plugin.HookContext{ChannelType: "telegram", ChannelID: "c", SenderID: "42", Sender: "alice"}
	if err := p.OnMessageReceived(hc); err != nil {
		t.Fatal(err)
	}
	hc2 := &plugin.HookContext{ChannelType: "telegram", ChannelID: "c", SenderID: "42", Sender: "alice"}
	if err := p.OnMessageReceived(hc2); err != nil {
		t.Fatal(err)
	}

	if len(p.Store().Pending()) != 1 {
		t.Fatalf("pending %v", p.Store().Pending())
	}
	if len(sender.sent) != 2 {
		t.Fatalf("sent %d", len(sender.sent))
	}
	if sender.sent[0].Content != sender.sent[1].Content {
		t.Fatal("pairing code changed between messages")
	}
}

func TestAuthorizedSenderPasses(t *testing.T) {
	p, sender := newTestGate(t, nil)
	if err := p.Store().AddAuthorized("telegram", "42", "alice"); err != nil {
		t.Fatal(err)
	}

	hc := &plugin.HookContext{ChannelType: "telegram", SenderID: "42"}
	if err := p.OnMessageReceived(hc); err != nil {
		t.Fatal(err)
	}
	if hc.Abort || len(sender.sent) != 0 {
		t.Fatal("authorized sender was gated")
	}
}

func TestOwnerBootstrapAuthorizes(t *testing.T) {
	cfg := &config.Config{}
	cfg.Pairing.Enabled = true
	cfg.Pairing.OwnerIDs = map[string][]string{"telegram": {"7"}}
	p, _ := newTestGate(t, cfg)

	hc := &plugin.HookContext{ChannelType: "telegram", SenderID: "7"}
	if err := p.OnMessageReceived(hc); err != nil {
		t.Fatal(err)
	}
	if hc.Abort {
		t.Fatal("owner was gated")
	}
}

func TestSkipChannelsBypassGate(t *testing.T) {
	cfg := &config.Config{}
	cfg.Pairing.Enabled = true
	cfg.Pairing.SkipChannels = []string{"filedrop"}
	p, sender := newTestGate(t, cfg)

	hc := &plugin.HookContext{ChannelType: "filedrop", SenderID: "stranger"}
	if err := p.OnMessageReceived(hc); err != nil {
		t.Fatal(err)
	}
	if hc.Abort || len(sender.sent) != 0 {
		t.Fatal("skip channel was gated")
	}
}

func TestDisabledGatePassesEverything(t *testing.T) {
	cfg := &config.Config{}
	cfg.Pairing.Enabled = false
	cfg.Pairing.StoragePath = filepath.Join(t.TempDir(), "pairing.yml")
	p, sender := newTestGate(t, cfg)

	hc := &plugin.HookContext{ChannelType: "telegram", SenderID: "anyone"}
	if err := p.OnMessageReceived(hc); err != nil {
		t.Fatal(err)
	}
	if hc.Abort || len(sender.sent) != 0 {
		t.Fatal("disabled gate blocked a message")
	}
}

func TestMissingIdentityFieldsPass(t *testing.T) {
	p, _ := newTestGate(t, nil)

	// Stdin messages carry no channel/user identity and are never
	// gated.
	hc := &plugin.HookContext{Message: "hello"}
	if err := p.OnMessageReceived(hc); err != nil {
		t.Fatal(err)
	}
	if hc.Abort {
		t.Fatal("identity-less message gated")
	}
}
