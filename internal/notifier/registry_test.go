package notifier

import (
	"context"
	"errors"
	"testing"

	"github.com/newthinker/catalyst/internal/core"
)

type mockNotifier struct {
	name       string
	sendCalled int
	batchCalls int
	shouldFail bool
}

func (m *mockNotifier) Name() string { return m.name }

func (m *mockNotifier) Init(cfg Config) error { return nil }

func (m *mockNotifier) Send(ctx context.Context, msg Message) error {
	m.sendCalled++
	if m.shouldFail {
		return errors.New("send failed")
	}
	return nil
}

func (m *mockNotifier) SendBatch(ctx context.Context, msgs []Message) error {
	m.batchCalls++
	if m.shouldFail {
		return errors.New("batch send failed")
	}
	return nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	mock := &mockNotifier{name: "test"}
	err := r.Register(mock)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Duplicate registration should fail
	err = r.Register(mock)
	if err == nil {
		t.Error("expected error for duplicate registration")
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()

	mock := &mockNotifier{name: "test"}
	r.Register(mock)

	n, err := r.Get("test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Name() != "test" {
		t.Errorf("expected 'test', got '%s'", n.Name())
	}

	// Non-existent notifier
	_, err = r.Get("nonexistent")
	if err == nil {
		t.Error("expected error for non-existent notifier")
	}
}

func TestRegistry_GetAll(t *testing.T) {
	r := NewRegistry()

	r.Register(&mockNotifier{name: "b"})
	r.Register(&mockNotifier{name: "a"})

	all := r.GetAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 notifiers, got %d", len(all))
	}
	if all[0].Name() != "a" {
		t.Errorf("expected notifiers ordered by name, got %s first", all[0].Name())
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRegistry_NotifyAll(t *testing.T) {
	r := NewRegistry()

	mock1 := &mockNotifier{name: "n1"}
	mock2 := &mockNotifier{name: "n2"}
	r.Register(mock1)
	r.Register(mock2)

	errs := r.NotifyAll(context.Background(), Message{Ticker: "TEST", Text: "hello"})

	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}

	if mock1.sendCalled != 1 {
		t.Errorf("expected mock1.sendCalled = 1, got %d", mock1.sendCalled)
	}
	if mock2.sendCalled != 1 {
		t.Errorf("expected mock2.sendCalled = 1, got %d", mock2.sendCalled)
	}
}

func TestRegistry_NotifyAll_WithFailure(t *testing.T) {
	r := NewRegistry()

	mock1 := &mockNotifier{name: "n1"}
	mock2 := &mockNotifier{name: "n2", shouldFail: true}
	r.Register(mock1)
	r.Register(mock2)

	errs := r.NotifyAll(context.Background(), Message{Ticker: "TEST"})

	if len(errs) != 1 {
		t.Errorf("expected 1 error, got %d", len(errs))
	}
	err, ok := errs["n2"]
	if !ok {
		t.Fatal("expected error from n2")
	}
	if !errors.Is(err, core.ErrNotifierFailed) {
		t.Errorf("expected ErrNotifierFailed, got %v", err)
	}
}

func TestRegistry_NotifyAllBatch(t *testing.T) {
	r := NewRegistry()

	mock := &mockNotifier{name: "batch"}
	r.Register(mock)

	msgs := []Message{
		{Ticker: "A", Text: "a"},
		{Ticker: "B", Text: "b"},
	}
	errs := r.NotifyAllBatch(context.Background(), msgs)

	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
	if mock.batchCalls != 1 {
		t.Errorf("expected batchCalls = 1, got %d", mock.batchCalls)
	}

	r.NotifyAllBatch(context.Background(), nil)
	if mock.batchCalls != 1 {
		t.Errorf("empty batch should not be sent, batchCalls = %d", mock.batchCalls)
	}
}
