package alert_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/hearken/internal/alert"
	"github.com/MrWong99/hearken/pkg/provider/notify/mock"
)

// ---- helpers ----------------------------------------------------------------

type fakeSender struct {
	id    string
	err   error
	block bool
	panic bool

	mu   sync.Mutex
	msgs []string
}

func (s *fakeSender) ID() string { return s.id }

func (s *fakeSender) Send(ctx context.Context, message string) error {
	if s.panic {
		panic("boom")
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.msgs = append(s.msgs, message)
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func staticSource(senders ...*fakeSender) alert.Source {
	return alert.SourceFunc(func() []alert.Sender {
		out := make([]alert.Sender, len(senders))
		for i, s := range senders {
			out[i] = s
		}
		return out
	})
}

func waitNotified(t *testing.T, n *mock.Notifier) {
	t.Helper()
	select {
	case <-n.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was not called")
	}
}

// ---- tests ------------------------------------------------------------------

func TestBroadcast_DeliversToEveryTarget(t *testing.T) {
	t.Parallel()

	a, b, c := &fakeSender{id: "a"}, &fakeSender{id: "b"}, &fakeSender{id: "c"}
	n := &mock.Notifier{}
	br := alert.New(staticSource(a, b, c), n)

	r := br.Broadcast(context.Background(), "reply", "guard: 校园暴力 - 被同学威胁")
	if r != (alert.Report{Targets: 3, Delivered: 3}) {
		t.Errorf("report = %+v, want 3 delivered", r)
	}
	for _, s := range []*fakeSender{a, b, c} {
		if got := s.received(); len(got) != 1 || got[0] != "reply" {
			t.Errorf("sender %s received %v, want [reply]", s.id, got)
		}
	}

	br.Wait()
	msgs := n.Messages()
	if len(msgs) != 1 || msgs[0] != "guard: 校园暴力 - 被同学威胁" {
		t.Errorf("notifier messages = %v, want the context string once", msgs)
	}
}

func TestBroadcast_IsolatesFailingSends(t *testing.T) {
	t.Parallel()

	ok1 := &fakeSender{id: "ok1"}
	bad := &fakeSender{id: "bad", err: errors.New("closed")}
	slow := &fakeSender{id: "slow", block: true}
	crash := &fakeSender{id: "crash", panic: true}
	ok2 := &fakeSender{id: "ok2"}

	br := alert.New(staticSource(ok1, bad, slow, crash, ok2), nil,
		alert.WithSendTimeout(50*time.Millisecond),
		alert.WithMaxFanout(2),
	)

	r := br.Broadcast(context.Background(), "msg", "ctx")
	if r.Targets != 5 || r.Delivered != 2 || r.Failed != 3 {
		t.Errorf("report = %+v, want 5 targets, 2 delivered, 3 failed", r)
	}
	if len(ok1.received()) != 1 || len(ok2.received()) != 1 {
		t.Error("healthy senders did not receive the alert")
	}
}

func TestBroadcast_NotifierFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		n    *mock.Notifier
	}{
		{"error", &mock.Notifier{Err: errors.New("bark down")}},
		{"panic", &mock.Notifier{Panic: true}},
		{"timeout", &mock.Notifier{Delay: time.Hour}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := &fakeSender{id: "s"}
			br := alert.New(staticSource(s), tt.n, alert.WithNotifyTimeout(20*time.Millisecond))

			r := br.Broadcast(context.Background(), "msg", "ctx")
			if r.Delivered != 1 {
				t.Errorf("delivered = %d, want 1", r.Delivered)
			}
			waitNotified(t, tt.n)
			br.Wait()
		})
	}
}

func TestBroadcast_NotifierOutlivesCallerContext(t *testing.T) {
	t.Parallel()

	n := &mock.Notifier{Delay: 30 * time.Millisecond}
	br := alert.New(staticSource(), n)

	ctx, cancel := context.WithCancel(context.Background())
	r := br.Broadcast(ctx, "msg", "ctx")
	cancel()
	if r.Targets != 0 {
		t.Errorf("targets = %d, want 0", r.Targets)
	}

	br.Wait()
	if len(n.Messages()) != 1 {
		t.Fatal("notifier was not called")
	}
}

func TestBroadcast_SharedPendingGroup(t *testing.T) {
	t.Parallel()

	var pending sync.WaitGroup
	n := &mock.Notifier{Delay: 30 * time.Millisecond}
	first := alert.New(staticSource(), n, alert.WithPending(&pending))
	second := alert.New(staticSource(), n, alert.WithPending(&pending))

	first.Broadcast(context.Background(), "msg", "first")
	second.Broadcast(context.Background(), "msg", "second")
	pending.Wait()

	if got := n.Messages(); len(got) != 2 {
		t.Fatalf("notifier messages = %q, want both", got)
	}
	for range 2 {
		select {
		case <-n.Done():
		default:
			t.Fatal("shared group released before every notification finished")
		}
	}
}

func TestBroadcast_UsesSnapshotPerCall(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	live := []*fakeSender{{id: "a"}}
	src := alert.SourceFunc(func() []alert.Sender {
		mu.Lock()
		defer mu.Unlock()
		out := make([]alert.Sender, len(live))
		for i, s := range live {
			out[i] = s
		}
		return out
	})
	br := alert.New(src, nil)

	if r := br.Broadcast(context.Background(), "one", ""); r.Targets != 1 {
		t.Fatalf("first broadcast targets = %d, want 1", r.Targets)
	}

	mu.Lock()
	live = append(live, &fakeSender{id: "b"})
	mu.Unlock()

	if r := br.Broadcast(context.Background(), "two", ""); r.Targets != 2 {
		t.Fatalf("second broadcast targets = %d, want 2", r.Targets)
	}
	br.Wait()
}

func TestBroadcast_ConcurrentWithMembershipChanges(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var live []*fakeSender
	src := alert.SourceFunc(func() []alert.Sender {
		mu.Lock()
		defer mu.Unlock()
		out := make([]alert.Sender, len(live))
		for i, s := range live {
			out[i] = s
		}
		return out
	})
	br := alert.New(src, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 200 {
			mu.Lock()
			if i%3 == 2 && len(live) > 0 {
				live = live[1:]
			} else {
				live = append(live, &fakeSender{id: "x"})
			}
			mu.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		for range 50 {
			r := br.Broadcast(context.Background(), "m", "")
			if r.Delivered+r.Failed != r.Targets {
				t.Errorf("report does not add up: %+v", r)
				return
			}
		}
	}()
	wg.Wait()
	br.Wait()
}
