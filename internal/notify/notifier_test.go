package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type fakeSender struct {
	name  string
	err   error
	calls []string
}

func (f *fakeSender) Send(ctx context.Context, title, message string) error {
	f.calls = append(f.calls, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_FansOutToAllSenders(t *testing.T) {
	a := &fakeSender{name: "telegram"}
	b := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{a, b}, nil, testLogger())

	if err := n.Notify(context.Background(), EventSyncComplete, "done", "all wallets synced"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if len(a.calls) != 1 || len(b.calls) != 1 {
		t.Errorf("sender calls = %d, %d, want 1, 1", len(a.calls), len(b.calls))
	}
}

func TestNotifier_EventFilter(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{s}, []string{EventSyncFailed, EventMarketResolved}, testLogger())

	ctx := context.Background()
	if err := n.Notify(ctx, EventSyncComplete, "done", "msg"); err != nil {
		t.Fatalf("Notify filtered event: %v", err)
	}
	if len(s.calls) != 0 {
		t.Fatalf("filtered event reached sender: %v", s.calls)
	}

	if err := n.Notify(ctx, EventSyncFailed, "failed", "msg"); err != nil {
		t.Fatalf("Notify allowed event: %v", err)
	}
	if len(s.calls) != 1 {
		t.Errorf("allowed event calls = %d, want 1", len(s.calls))
	}
}

func TestNotifier_OneFailingSenderDoesNotBlockOthers(t *testing.T) {
	bad := &fakeSender{name: "telegram", err: errors.New("429 too many requests")}
	good := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), EventIntegrity, "oversell", "msg")
	if err == nil {
		t.Fatal("expected error from failing sender")
	}
	if !strings.Contains(err.Error(), "telegram") {
		t.Errorf("error = %q, want mention of failing sender", err)
	}
	if len(good.calls) != 1 {
		t.Errorf("healthy sender calls = %d, want 1", len(good.calls))
	}
}

func TestNotifier_NoSendersIsNoop(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	if err := n.Notify(context.Background(), EventSyncFailed, "failed", "msg"); err != nil {
		t.Fatalf("Notify with no senders: %v", err)
	}
}
