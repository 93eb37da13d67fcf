package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "partybot/internal/transport"
	logx "partybot/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

type fakeAdapter struct {
	mu    sync.Mutex
	fails int // SendText fails this many times first
	sent  []sent
	calls int
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return kit.MessageRef{}, errors.New("flaky")
	}
	f.sent = append(f.sent, sent{to: to, text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return nil
}

func (f *fakeAdapter) snapshot() ([]sent, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...), f.calls
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		QueueSize:     16,
		RatePerSec:    100,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		DedupWindow:   time.Minute,
	}
}

// drain stops s and waits for the queue to empty.
func drain(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestNotifyDelivers(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{}
	s := New(testConfig(), a, logx.Nop(), nil, nil)
	s.Start(context.Background())

	n := kit.Notification{
		Channel:  "telegram",
		Target:   kit.ChatTarget{ChatID: -100, ThreadID: 3},
		Text:     "hello",
		Options:  &kit.SendOptions{ReplyToMessageID: 42},
		Priority: 7,
	}
	if err := s.Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify = %v", err)
	}
	drain(t, s)

	got, _ := a.snapshot()
	if len(got) != 1 {
		t.Fatalf("sent %d messages, want 1", len(got))
	}
	if got[0].text != "⚠️ hello" {
		t.Fatalf("text = %q, want priority prefix", got[0].text)
	}
	if got[0].to.ThreadID != 3 || got[0].opt == nil || got[0].opt.ReplyToMessageID != 42 {
		t.Fatalf("target/options not passed through: %+v %+v", got[0].to, got[0].opt)
	}
	if h := s.Snapshot(); len(h) != 1 || h[0].ChatID != -100 {
		t.Fatalf("history = %+v", h)
	}
}

func TestNotifyDedupByKey(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{}
	s := New(testConfig(), a, logx.Nop(), nil, nil)
	s.Start(context.Background())

	for i, text := range []string{"first", "second", "third"} {
		n := kit.Notification{
			Channel:  "telegram",
			Target:   kit.ChatTarget{ChatID: 1},
			Text:     text,
			DedupKey: "closed:abc",
		}
		if err := s.Notify(context.Background(), n); err != nil {
			t.Fatalf("Notify #%d = %v", i, err)
		}
	}
	drain(t, s)

	got, _ := a.snapshot()
	if len(got) != 1 || got[0].text != "first" {
		t.Fatalf("sent = %+v, want only the first", got)
	}
}

func TestNotifyRetries(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{fails: 2}
	s := New(testConfig(), a, logx.Nop(), nil, nil)
	s.Start(context.Background())

	if err := s.Notify(context.Background(), kit.Notification{Target: kit.ChatTarget{ChatID: 1}, Text: "x"}); err != nil {
		t.Fatalf("Notify = %v", err)
	}
	drain(t, s)

	got, calls := a.snapshot()
	if len(got) != 1 || calls != 3 {
		t.Fatalf("sent=%d calls=%d, want 1 and 3", len(got), calls)
	}
}

func TestNotifyStates(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{}

	cfg := testConfig()
	cfg.Enabled = false
	off := New(cfg, a, logx.Nop(), nil, nil)
	off.Start(context.Background())
	if err := off.Notify(context.Background(), kit.Notification{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled Notify = %v, want ErrDisabled", err)
	}

	s := New(testConfig(), a, logx.Nop(), nil, nil)
	if err := s.Notify(context.Background(), kit.Notification{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify before Start = %v, want ErrStopped", err)
	}
	s.Start(context.Background())
	drain(t, s)
	if err := s.Notify(context.Background(), kit.Notification{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify after Stop = %v, want ErrStopped", err)
	}
}

func TestDedupKey(t *testing.T) {
	t.Parallel()
	base := kit.Notification{Channel: "telegram", Target: kit.ChatTarget{ChatID: 1}, Text: "a"}
	other := base
	other.Text = "b"
	keyed := base
	keyed.DedupKey = "k"

	if dedupKey(base) != dedupKey(base) {
		t.Fatalf("dedupKey not stable")
	}
	if dedupKey(base) == dedupKey(other) {
		t.Fatalf("different text produced the same key")
	}
	if got := dedupKey(keyed); got != "k" {
		t.Fatalf("dedupKey = %q, want explicit key", got)
	}
	if got := dedupKey(kit.Notification{Text: "a"}); got != "" {
		t.Fatalf("dedupKey without channel = %q, want empty", got)
	}
}

func TestRetryDelayCapped(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		if d := retryDelay(cfg, attempt); d <= 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("retryDelay(%d) = %v, out of range", attempt, d)
		}
	}
}
