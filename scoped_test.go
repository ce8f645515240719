package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestScopeRegistryInstance(t *testing.T) {
	r := NewScopeRegistry()
	t.Cleanup(r.ShutdownAll)

	if _, err := r.Instance(""); !errors.Is(err, ErrEmptyScope) {
		t.Errorf("empty scope: got %v, want ErrEmptyScope", err)
	}

	first, err := r.Instance("billing", WithCorrelationID("billing-1"))
	if err != nil {
		t.Fatal(err)
	}
	// configuration sticks on first use, later options are ignored
	second, err := r.Instance("billing", WithCorrelationID("billing-2"))
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("Instance must return the same bus for the same scope")
	}
	if second.CorrelationID() != "billing-1" {
		t.Errorf("CorrelationID() = %q, want the first-use value", second.CorrelationID())
	}

	other, err := r.Instance("audit")
	if err != nil {
		t.Fatal(err)
	}
	if other == first {
		t.Error("distinct scopes must get distinct buses")
	}
}

func TestScopeRegistryLifecycle(t *testing.T) {
	r := NewScopeRegistry()
	t.Cleanup(r.ShutdownAll)

	if r.IsInitialized("billing") {
		t.Error("scope should not be initialized before first use")
	}
	first, err := r.Instance("billing")
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsInitialized("billing") {
		t.Error("scope should be initialized after first use")
	}

	r.Shutdown("billing")
	if !first.IsShutdown() {
		t.Error("scope bus should be shut down")
	}
	if r.IsInitialized("billing") {
		t.Error("released scope should not report initialized")
	}
	r.Shutdown("billing") // no-op

	// next use creates a fresh bus
	fresh, err := r.Instance("billing")
	if err != nil {
		t.Fatal(err)
	}
	if fresh == first {
		t.Error("released scope must get a fresh bus")
	}
	if fresh.IsShutdown() {
		t.Error("fresh bus should be running")
	}
}

func TestScopeRegistryScopes(t *testing.T) {
	r := NewScopeRegistry()
	t.Cleanup(r.ShutdownAll)
	for _, scope := range []string{"billing", "audit", "mail"} {
		if _, err := r.Instance(scope); err != nil {
			t.Fatal(err)
		}
	}
	r.Shutdown("mail")
	if diff := cmp.Diff([]string{"audit", "billing"}, r.Scopes()); diff != "" {
		t.Errorf("Scopes() (-want +got):\n%s", diff)
	}
}

func TestScopeRegistryDrain(t *testing.T) {
	r := NewScopeRegistry()
	t.Cleanup(r.ShutdownAll)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !r.Drain(ctx, "never.used") {
		t.Error("an uninitialized scope is idle")
	}

	bus, err := r.Instance("billing")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	if err := bus.Handle("evt", func(*Message) { close(done) }); err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish("evt", map[string]any{}); err != nil {
		t.Fatal(err)
	}
	if !r.Drain(ctx, "billing") {
		t.Error("scope should drain")
	}
	if !wait(done, waitChTimeoutMS) {
		t.Error("message not delivered before drain returned")
	}
}

func TestScopeRegistryRouting(t *testing.T) {
	r := NewScopeRegistry()
	t.Cleanup(r.ShutdownAll)

	// routed calls create the scope bus on first use
	done := make(chan struct{})
	id, err := r.Subscribe("mail", "send.*", func(*Message) { close(done) })
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsInitialized("mail") {
		t.Fatal("routed Subscribe should initialize the scope")
	}
	if err := r.Publish("mail", "send.welcome", map[string]any{}); err != nil {
		t.Fatal(err)
	}
	if !wait(done, waitChTimeoutMS) {
		t.Fatal("routed publish never delivered")
	}
	if err := r.Unsubscribe("mail", "send.*", id); err != nil {
		t.Fatal(err)
	}

	if _, err := r.On("mail", "send.*")(func(*Message) {}); err != nil {
		t.Fatal(err)
	}
	if err := r.Clear("mail"); err != nil {
		t.Fatal(err)
	}
	if err := r.Clear("never.used"); err != nil {
		t.Errorf("clearing an uninitialized scope: %v", err)
	}

	if _, err := r.Subscribe("", "evt", func(*Message) {}); !errors.Is(err, ErrEmptyScope) {
		t.Errorf("empty scope: got %v, want ErrEmptyScope", err)
	}
}

func TestScopeRegistryConcurrentInstance(t *testing.T) {
	r := NewScopeRegistry()
	t.Cleanup(r.ShutdownAll)

	const goroutines = 16
	buses := make([]*Bus, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bus, err := r.Instance("shared")
			if err != nil {
				t.Errorf("Instance: %v", err)
				return
			}
			buses[i] = bus
		}(i)
	}
	wg.Wait()
	for i := 1; i < goroutines; i++ {
		if buses[i] != buses[0] {
			t.Fatal("concurrent Instance calls must converge on one bus")
		}
	}
}

func TestPackageLevelScopes(t *testing.T) {
	const scope = "pkg-test-scope"
	t.Cleanup(func() { ShutdownScope(scope) })

	if ScopeInitialized(scope) {
		t.Fatal("scope unexpectedly initialized")
	}
	bus, err := Scope(scope)
	if err != nil {
		t.Fatal(err)
	}
	if !ScopeInitialized(scope) {
		t.Error("scope should be initialized")
	}
	again, err := Scope(scope)
	if err != nil {
		t.Fatal(err)
	}
	if bus != again {
		t.Error("package-level Scope must return the shared bus")
	}

	found := false
	for _, s := range AllScopes() {
		if s == scope {
			found = true
		}
	}
	if !found {
		t.Errorf("AllScopes() = %v, missing %q", AllScopes(), scope)
	}

	ShutdownScope(scope)
	if ScopeInitialized(scope) {
		t.Error("scope should be released")
	}
}
