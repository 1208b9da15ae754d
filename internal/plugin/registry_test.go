package plugin

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/al-munazzim/cobot/internal/config"
)

// stub is a minimal plugin with scriptable lifecycle and hook behavior.
type stub struct {
	meta Meta

	events *[]string

	configureErr error
	startErr     error
}

func (s *stub) PluginMeta() Meta { return s.meta }

func (s *stub) Configure(cfg *config.Config) error {
	s.log("configure")
	return s.configureErr
}

func (s *stub) Start(ctx context.Context) error {
	s.log("start")
	return s.startErr
}

func (s *stub) Stop(ctx context.Context) error {
	s.log("stop")
	return nil
}

func (s *stub) log(event string) {
	if s.events != nil {
		*s.events = append(*s.events, s.meta.ID+":"+event)
	}
}

// hookStub participates in on_message_received.
type hookStub struct {
	stub
	hookErr error
	abort   bool
	calls   *[]string
}

func (h *hookStub) OnMessageReceived(hc *HookContext) error {
	*h.calls = append(*h.calls, h.meta.ID)
	if h.abort {
		hc.Abort = true
	}
	return h.hookErr
}

// errorStub participates in on_error and can itself fail.
type errorStub struct {
	stub
	fired *int
	fail  bool
}

func (e *errorStub) OnError(hc *HookContext) error {
	*e.fired++
	if e.fail {
		return fmt.Errorf("error hook broken")
	}
	return nil
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&stub{meta: Meta{ID: "a"}}); err != nil {
		t.Fatal(err)
	}
	err := r.Register(&stub{meta: Meta{ID: "a"}})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("err %v", err)
	}
}

func TestRegisterRejectsEmptyID(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&stub{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadOrderByPriorityThenID(t *testing.T) {
	r := NewRegistry(nil)
	for _, m := range []Meta{
		{ID: "zeta", Priority: 10},
		{ID: "alpha", Priority: 10},
		{ID: "late", Priority: 30},
		{ID: "early", Priority: 5},
	} {
		if err := r.Register(&stub{meta: m}); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.ConfigureAll(&config.Config{}); err != nil {
		t.Fatal(err)
	}

	want := []string{"early", "alpha", "zeta", "late"}
	for i, p := range r.Plugins() {
		if p.PluginMeta().ID != want[i] {
			t.Fatalf("position %d: got %s want %s", i, p.PluginMeta().ID, want[i])
		}
	}
}

func TestLoadOrderHonorsDependencies(t *testing.T) {
	r := NewRegistry(nil)
	// "gate" would sort first by priority but depends on "store".
	for _, m := range []Meta{
		{ID: "gate", Priority: 1, Dependencies: []string{"store"}},
		{ID: "store", Priority: 20},
	} {
		if err := r.Register(&stub{meta: m}); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.ConfigureAll(&config.Config{}); err != nil {
		t.Fatal(err)
	}

	order := r.Plugins()
	if order[0].PluginMeta().ID != "store" || order[1].PluginMeta().ID != "gate" {
		t.Fatalf("order %s, %s", order[0].PluginMeta().ID, order[1].PluginMeta().ID)
	}
}

func TestConfigureAllMissingDependency(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&stub{meta: Meta{ID: "a", Dependencies: []string{"ghost"}}}); err != nil {
		t.Fatal(err)
	}

	err := r.ConfigureAll(&config.Config{})
	var depErr *DependencyError
	if !errors.As(err, &depErr) {
		t.Fatalf("err %v", err)
	}
	if depErr.Plugin != "a" || depErr.Missing != "ghost" {
		t.Fatalf("dep error %+v", depErr)
	}
}

func TestConfigureAllDependencyCycle(t *testing.T) {
	r := NewRegistry(nil)
	for _, m := range []Meta{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	} {
		if err := r.Register(&stub{meta: m}); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.ConfigureAll(&config.Config{}); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestByCapabilityReturnsFirstInLoadOrder(t *testing.T) {
	r := NewRegistry(nil)
	for _, m := range []Meta{
		{ID: "backup", Priority: 20, Capabilities: []string{CapLLM}},
		{ID: "primary", Priority: 10, Capabilities: []string{CapLLM}},
		{ID: "other", Priority: 5, Capabilities: []string{CapTools}},
	} {
		if err := r.Register(&stub{meta: m}); err != nil {
			t.Fatal(err)
		}
	}

	if got := r.ByCapability(CapLLM); got.PluginMeta().ID != "primary" {
		t.Fatalf("got %s", got.PluginMeta().ID)
	}
	if got := r.ByCapability(CapPersistence); got != nil {
		t.Fatalf("got %v", got)
	}
}

func TestImplementationsFiltersByPoint(t *testing.T) {
	r := NewRegistry(nil)
	for _, m := range []Meta{
		{ID: "tg", Priority: 30, Implements: []string{PointSessionReceive, PointSessionSend}},
		{ID: "drop", Priority: 24, Implements: []string{PointSessionReceive}},
		{ID: "soul", Priority: 15, Implements: []string{PointSystemPrompt}},
	} {
		if err := r.Register(&stub{meta: m}); err != nil {
			t.Fatal(err)
		}
	}

	impls := r.Implementations(PointSessionReceive)
	if len(impls) != 2 {
		t.Fatalf("impls %d", len(impls))
	}
	if impls[0].PluginMeta().ID != "drop" || impls[1].PluginMeta().ID != "tg" {
		t.Fatalf("order %s, %s", impls[0].PluginMeta().ID, impls[1].PluginMeta().ID)
	}
}

func TestRunHookRunsInOrderAndAborts(t *testing.T) {
	r := NewRegistry(nil)
	var calls []string
	for _, h := range []*hookStub{
		{stub: stub{meta: Meta{ID: "first", Priority: 5}}, calls: &calls},
		{stub: stub{meta: Meta{ID: "gate", Priority: 10}, events: nil}, abort: true, calls: &calls},
		{stub: stub{meta: Meta{ID: "never", Priority: 20}}, calls: &calls},
	} {
		if err := r.Register(h); err != nil {
			t.Fatal(err)
		}
	}

	hc := r.RunHook(HookMessageReceived, &HookContext{Message: "hi"})
	if !hc.Abort {
		t.Fatal("abort not propagated")
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "gate" {
		t.Fatalf("calls %v", calls)
	}
}

func TestRunHookNilContext(t *testing.T) {
	r := NewRegistry(nil)
	if hc := r.RunHook(HookMessageReceived, nil); hc == nil {
		t.Fatal("nil context returned")
	}
}

func TestHookErrorContinuesChainAndFiresOnError(t *testing.T) {
	r := NewRegistry(nil)
	var calls []string
	fired := 0
	plugins := []Plugin{
		&hookStub{stub: stub{meta: Meta{ID: "broken", Priority: 5}}, hookErr: fmt.Errorf("boom"), calls: &calls},
		&hookStub{stub: stub{meta: Meta{ID: "healthy", Priority: 10}}, calls: &calls},
		&errorStub{stub: stub{meta: Meta{ID: "watcher", Priority: 1}}, fired: &fired},
	}
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			t.Fatal(err)
		}
	}

	r.RunHook(HookMessageReceived, &HookContext{})

	// The failing hook must not stop the healthy one.
	if len(calls) != 2 || calls[1] != "healthy" {
		t.Fatalf("calls %v", calls)
	}
	if fired != 1 {
		t.Fatalf("on_error fired %d times", fired)
	}
}

func TestOnErrorNeverReenters(t *testing.T) {
	r := NewRegistry(nil)
	fired := 0
	// The error hook itself fails; dispatching that failure back into
	// on_error would loop forever.
	if err := r.Register(&errorStub{stub: stub{meta: Meta{ID: "watcher"}}, fired: &fired, fail: true}); err != nil {
		t.Fatal(err)
	}

	r.RunHook(HookError, &HookContext{Err: fmt.Errorf("original")})
	if fired != 1 {
		t.Fatalf("on_error fired %d times", fired)
	}
}

func TestStartAllIdempotentAndStopAllReversed(t *testing.T) {
	r := NewRegistry(nil)
	var events []string
	for _, m := range []Meta{
		{ID: "a", Priority: 1},
		{ID: "b", Priority: 2},
	} {
		if err := r.Register(&stub{meta: m, events: &events}); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.ConfigureAll(&config.Config{}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := r.StartAll(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.StartAll(ctx); err != nil {
		t.Fatal(err)
	}
	r.StopAll(ctx)

	want := []string{
		"a:configure", "b:configure",
		"a:start", "b:start",
		"b:stop", "a:stop",
	}
	if len(events) != len(want) {
		t.Fatalf("events %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: got %s want %s", i, events[i], want[i])
		}
	}
}

func TestStartAllPropagatesFailure(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&stub{meta: Meta{ID: "flaky"}, startErr: fmt.Errorf("no network")}); err != nil {
		t.Fatal(err)
	}
	if err := r.StartAll(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
}

func TestMetaHelpers(t *testing.T) {
	m := Meta{
		Capabilities: []string{CapCommunication},
		Implements:   []string{PointSessionSend},
	}
	if !m.HasCapability(CapCommunication) || m.HasCapability(CapLLM) {
		t.Fatal("capability lookup wrong")
	}
	if !m.ImplementsPoint(PointSessionSend) || m.ImplementsPoint(PointSessionReceive) {
		t.Fatal("point lookup wrong")
	}
}
