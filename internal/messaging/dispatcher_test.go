package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/BTreeMap/CivicPipe/internal/models"
	"github.com/BTreeMap/CivicPipe/internal/testutil"
)

type recordingHandler struct {
	mu      sync.Mutex
	seen    map[string][]string
	gates   map[string]chan struct{}
	started chan string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		seen:    make(map[string][]string),
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 64),
	}
}

func (h *recordingHandler) gate(user string) chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	g := make(chan struct{})
	h.gates[user] = g
	return g
}

func (h *recordingHandler) Handle(ctx context.Context, ev models.Event) error {
	h.started <- ev.UserID
	h.mu.Lock()
	g := h.gates[ev.UserID]
	h.mu.Unlock()
	if g != nil {
		<-g
	}
	h.mu.Lock()
	h.seen[ev.UserID] = append(h.seen[ev.UserID], ev.Text)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) texts(user string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen[user]...)
}

func waitStarted(t *testing.T, h *recordingHandler, user string) {
	t.Helper()
	for {
		select {
		case u := <-h.started:
			if u == user {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("handler never started for %s", user)
		}
	}
}

func TestDispatcherPreservesPerUserOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newRecordingHandler()
	d := NewDispatcher(h, nil)

	for i := 0; i < 5; i++ {
		if err := d.Dispatch(context.Background(), models.TextEvent("u1", fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
	}
	d.Stop()

	got := h.texts("u1")
	want := []string{"m0", "m1", "m2", "m3", "m4"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestDispatcherUsersDoNotBlockEachOther(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newRecordingHandler()
	release := h.gate("slow")
	d := NewDispatcher(h, nil)
	ctx := context.Background()

	_ = d.Dispatch(ctx, models.TextEvent("slow", "first"))
	waitStarted(t, h, "slow")
	_ = d.Dispatch(ctx, models.TextEvent("fast", "hello"))
	waitStarted(t, h, "fast")

	deadline := time.Now().Add(2 * time.Second)
	for len(h.texts("fast")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("fast user was blocked by slow user")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(h.texts("slow")) != 0 {
		t.Error("slow user finished before release")
	}

	close(release)
	d.Stop()
	if got := h.texts("slow"); len(got) != 1 {
		t.Errorf("expected slow event to complete, got %v", got)
	}
}

func TestDispatcherFullMailboxRepliesBusy(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newRecordingHandler()
	release := h.gate("u1")
	msgs := testutil.NewRecordingMessenger()
	d := NewDispatcher(h, msgs, WithMailboxSize(1))
	ctx := context.Background()

	_ = d.Dispatch(ctx, models.TextEvent("u1", "a"))
	waitStarted(t, h, "u1")
	_ = d.Dispatch(ctx, models.TextEvent("u1", "b"))
	_ = d.Dispatch(ctx, models.TextEvent("u1", "c"))

	if msgs.Last("u1") != BusyText {
		t.Errorf("expected busy reply, got %q", msgs.Last("u1"))
	}

	close(release)
	d.Stop()
	if got := h.texts("u1"); fmt.Sprint(got) != "[a b]" {
		t.Errorf("expected queued events only, got %v", got)
	}
}

func TestDispatcherIdleWorkersExit(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newRecordingHandler()
	d := NewDispatcher(h, nil, WithIdleTimeout(10*time.Millisecond))

	_ = d.Dispatch(context.Background(), models.TextEvent("u1", "hi"))
	deadline := time.Now().Add(2 * time.Second)
	for d.Workers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle worker did not exit")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = d.Dispatch(context.Background(), models.TextEvent("u1", "again"))
	d.Stop()
	if got := h.texts("u1"); len(got) != 2 {
		t.Errorf("expected both events handled, got %v", got)
	}
}

func TestDispatcherRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newRecordingHandler()
	d := NewDispatcher(h, nil)

	events := make(chan models.Event, 3)
	events <- models.TextEvent("u1", "one")
	events <- models.TextEvent("u2", "two")
	events <- models.Event{Kind: models.EventText, Text: "anonymous"}
	close(events)

	if err := d.Run(context.Background(), events); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(h.texts("u1")) != 1 || len(h.texts("u2")) != 1 {
		t.Errorf("expected both users handled, got %v / %v", h.texts("u1"), h.texts("u2"))
	}
	if err := d.Dispatch(context.Background(), models.TextEvent("u1", "late")); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped after Run, got %v", err)
	}
}

func TestDispatcherRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := NewDispatcher(newRecordingHandler(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, make(chan models.Event)) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
