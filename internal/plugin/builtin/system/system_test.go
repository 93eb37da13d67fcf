package system

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"partybot/internal/eventbus"
	"partybot/internal/plugin"
	"partybot/internal/task/scheduler"
	kit "partybot/internal/transport"
	"partybot/internal/transport/telegram/router"
	logx "partybot/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (a *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(ctx context.Context) error { return nil }
func (a *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}
func (a *fakeAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return nil
}

func (a *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.sent = append(a.sent, text)
	n := len(a.sent)
	a.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID, MessageID: n}, nil
}

func (a *fakeAdapter) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return ""
	}
	return a.sent[len(a.sent)-1]
}

func newStarted(t *testing.T, bus eventbus.Bus, status StatusFunc) *Plugin {
	t.Helper()
	p := New(status)
	if err := p.Init(context.Background(), plugin.Deps{Logger: logx.Nop(), Bus: bus}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p
}

func TestStatusReport(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	status := func(ctx context.Context) plugin.Snapshot {
		return plugin.Snapshot{Plugins: []plugin.Status{
			{Name: "recruit", Enabled: true, Running: true, Health: "ok open=2"},
			{Name: "broken", Enabled: true, Quarantined: true, QuarantineErr: "Capacity: failed \"lte\""},
		}}
	}
	p := newStarted(t, bus, status)

	bus.Publish(eventbus.Event{Type: "notifier.sent"})
	bus.Publish(eventbus.Event{Type: "recruit.opened"})
	bus.Publish(eventbus.Event{Type: "task.finished"})
	deadline := time.Now().Add(2 * time.Second)
	for p.eventCount("recruit.opened") == 0 || p.eventCount("notifier.sent") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("events not counted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := p.eventCount("task.finished"); got != 0 {
		t.Fatalf("task.finished counted %d times, want 0", got)
	}

	ad := &fakeAdapter{}
	sched := scheduler.New(scheduler.Config{Enabled: true, Timezone: "UTC"}, logx.Nop(), bus)
	if _, err := sched.AddInterval("recruit:sweep", time.Minute, 0, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}
	req := &router.Request{
		Chat:     kit.ChatTarget{ChatID: 1},
		Adapter:  ad,
		Services: &router.Services{Scheduler: sched, Bus: bus, RuntimeSupervisors: router.NewSupervisorRegistry()},
	}
	if err := p.cmdStatus(context.Background(), req); err != nil {
		t.Fatalf("cmdStatus: %v", err)
	}
	out := ad.last()
	for _, want := range []string{"반복 작업</b>: 1", "recruit 실행 중 health=ok open=2", "broken 격리됨", "<b>시작</b>: 1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status missing %q:\n%s", want, out)
		}
	}
}

func TestSchedList(t *testing.T) {
	t.Parallel()
	p := newStarted(t, nil, nil)
	ad := &fakeAdapter{}

	off := scheduler.New(scheduler.Config{Enabled: false}, logx.Nop(), nil)
	req := &router.Request{Chat: kit.ChatTarget{ChatID: 1}, Adapter: ad, Services: &router.Services{Scheduler: off}}
	if err := p.cmdSched(context.Background(), req); err != nil {
		t.Fatalf("cmdSched: %v", err)
	}
	if got := ad.last(); got != "스케줄러가 꺼져 있습니다." {
		t.Fatalf("disabled reply = %q", got)
	}

	on := scheduler.New(scheduler.Config{Enabled: true, Timezone: "UTC"}, logx.Nop(), nil)
	req.Services.Scheduler = on
	if err := p.cmdSched(context.Background(), req); err != nil {
		t.Fatalf("cmdSched: %v", err)
	}
	if got := ad.last(); got != "예약된 작업이 없습니다." {
		t.Fatalf("empty reply = %q", got)
	}

	if _, err := on.AddDaily("recruit:prune", "04:30", 0, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if err := p.cmdSched(context.Background(), req); err != nil {
		t.Fatalf("cmdSched: %v", err)
	}
	if got := ad.last(); !strings.Contains(got, "recruit:prune") || !strings.Contains(got, "30 4 * * *") {
		t.Fatalf("list = %q", got)
	}
}

func TestPluginLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		st   plugin.Status
		want string
	}{
		{plugin.Status{Name: "a", Running: true, Enabled: true}, "• a 실행 중"},
		{plugin.Status{Name: "b", Enabled: true}, "• b 대기"},
		{plugin.Status{Name: "c"}, "• c 꺼짐"},
		{plugin.Status{Name: "d", Quarantined: true, QuarantineErr: " bad "}, "• d 격리됨: bad"},
		{plugin.Status{Name: "e", Running: true, Health: "stopped", HealthErr: "context canceled"}, "• e 실행 중 health=stopped err=context canceled"},
	}
	for _, tt := range tests {
		if got := pluginLine(tt.st); got != tt.want {
			t.Fatalf("pluginLine(%+v) = %q, want %q", tt.st, got, tt.want)
		}
	}
}
