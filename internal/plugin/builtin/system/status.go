package system

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"partybot/internal/plugin"
	"partybot/internal/task/scheduler"
	"partybot/internal/transport/telegram/router"
	"partybot/pkg/tgui"

	"github.com/dustin/go-humanize"
)

func (p *Plugin) cmdStatus(ctx context.Context, req *router.Request) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	b := tgui.New().Title("🩺", "상태")
	b.KV("가동 시간", strings.TrimSpace(humanize.RelTime(p.startedAt, time.Now(), "", "")))
	b.KV("goroutines", fmt.Sprint(runtime.NumGoroutine()))
	b.KV("메모리", humanize.IBytes(m.Alloc)+" / "+humanize.IBytes(m.Sys))
	b.Blank()

	svc := req.Services
	b.Title("⏱", "스케줄러")
	if svc == nil || svc.Scheduler == nil {
		b.Line("사용 불가")
	} else {
		s := svc.Scheduler.Snapshot()
		b.KV("상태", onOff(s.Enabled && s.Running))
		b.KV("시간대", s.Timezone)
		b.KV("반복 작업", fmt.Sprint(len(s.Schedules)))
		b.KV("마감 타이머", fmt.Sprint(len(s.Once)))
		if last, ok := lastRun(s); ok {
			b.KV("최근 실행", last)
		}
	}
	b.Blank()

	b.Title("📨", "알림")
	b.KV("전송", fmt.Sprint(p.eventCount("notifier.sent")))
	b.KV("실패", fmt.Sprint(p.eventCount("notifier.failed")))
	b.KV("중복 제거", fmt.Sprint(p.eventCount("notifier.deduped")))
	b.KV("버림", fmt.Sprint(p.eventCount("notifier.dropped")))
	if svc != nil && svc.Bus != nil {
		b.KV("버스 유실", fmt.Sprint(svc.Bus.Dropped()))
	}
	b.Blank()

	b.Title("⚔️", "모집")
	b.KV("시작", fmt.Sprint(p.eventCount("recruit.opened")))
	b.KV("참여", fmt.Sprint(p.eventCount("recruit.joined")))
	b.KV("종료", fmt.Sprint(p.eventCount("recruit.closed")))
	b.Blank()

	b.Title("🔌", "플러그인")
	if p.status != nil {
		for _, st := range p.status(ctx).Plugins {
			b.Line(pluginLine(st))
		}
	}
	b.Blank()

	b.Title("🧵", "supervisor")
	if svc != nil && svc.AppSupervisor != nil {
		b.Line(counterLine("app", svc.AppSupervisor))
	}
	if p.Runner != nil {
		b.Line(counterLine("plugin:"+p.Name(), p.Runner))
	}
	if svc != nil {
		subs := svc.RuntimeSupervisors.Snapshot()
		names := make([]string, 0, len(subs))
		for name := range subs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			b.Line(counterLine(name, subs[name]))
		}
	}

	_, err := b.Build().Reply(ctx, req.Adapter, req.Chat, req.MessageID)
	return err
}

func (p *Plugin) cmdSched(ctx context.Context, req *router.Request) error {
	if req.Services == nil || req.Services.Scheduler == nil || !req.Services.Scheduler.Enabled() {
		_, err := req.Reply(ctx, "스케줄러가 꺼져 있습니다.", nil)
		return err
	}
	s := req.Services.Scheduler.Snapshot()
	if len(s.Schedules) == 0 && len(s.Once) == 0 {
		_, err := req.Reply(ctx, "예약된 작업이 없습니다.", nil)
		return err
	}
	items := append([]scheduler.ScheduleInfo(nil), s.Schedules...)
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	now := time.Now()
	b := tgui.New().Title("⏱", "예약 작업 ("+s.Timezone+")")
	for _, it := range items {
		next := "-"
		if !it.Next.IsZero() {
			next = humanize.RelTime(it.Next, now, "전", "후")
		}
		b.KV(it.Name, it.Spec+", 다음: "+next)
	}
	if len(s.Once) > 0 {
		soonest := s.Once[0]
		b.KV("마감 타이머", fmt.Sprintf("%d개, 가장 빠른 것 %s", len(s.Once), humanize.RelTime(soonest.At, now, "전", "후")))
	}
	_, err := b.Build().Reply(ctx, req.Adapter, req.Chat, req.MessageID)
	return err
}

func lastRun(s scheduler.Snapshot) (string, bool) {
	if len(s.History) == 0 {
		return "", false
	}
	it := s.History[len(s.History)-1]
	status := "ok"
	switch {
	case it.Skipped:
		status = "skip"
	case it.Error != "":
		status = "fail: " + tgui.TruncRunes(it.Error, 80)
	}
	return fmt.Sprintf("%s (%s, %s)", it.Name, status, humanize.RelTime(it.Started, time.Now(), "전", "후")), true
}

func pluginLine(st plugin.Status) string {
	parts := []string{st.Name}
	switch {
	case st.Quarantined:
		parts = append(parts, "격리됨: "+tgui.TruncRunes(strings.TrimSpace(st.QuarantineErr), 80))
	case st.Running:
		parts = append(parts, "실행 중")
	case st.Enabled:
		parts = append(parts, "대기")
	default:
		parts = append(parts, "꺼짐")
	}
	if st.Health != "" {
		parts = append(parts, "health="+st.Health)
	}
	if st.HealthErr != "" {
		parts = append(parts, "err="+tgui.TruncRunes(st.HealthErr, 60))
	}
	return "• " + strings.Join(parts, " ")
}

func counterLine(name string, sup *router.Supervisor) string {
	c := sup.Counters()
	return fmt.Sprintf("• %s: active=%d started=%d panics=%d", name, c.Active, c.Started, c.Panics)
}

func onOff(on bool) string {
	if on {
		return "켜짐"
	}
	return "꺼짐"
}
