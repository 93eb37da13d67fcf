package recruit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"partybot/internal/recruit"
	"partybot/internal/storage"
	kit "partybot/internal/transport"
	"partybot/internal/transport/telegram/router"
	logx "partybot/pkg/logx"
	"partybot/pkg/tgui"
)

const usageRecruit = "/recruit 제목 | 출발 시간 | 인원 | 마감  (예: /recruit 정복 | 23:00 출발 | 6 | 1시간 30분)"

var errNoStore = errors.New("storage disabled")

func (p *Plugin) commands() []router.Command {
	return []router.Command{
		{
			Route:       "recruit",
			Aliases:     []string{"party", "모집"},
			Description: "파티 모집 시작",
			Usage:       usageRecruit + "\n알림: --alert=@태그",
			Access:      router.AccessEveryone,
			Timeout:     20 * time.Second,
			Handle:      p.cmdOpen,
		},
		{
			Route:       "recruit list",
			Description: "진행 중인 모집 목록",
			Usage:       "/recruit list",
			Access:      router.AccessEveryone,
			Handle:      p.cmdList,
		},
		{
			Route:       "recruit history",
			Description: "종료된 모집 기록",
			Usage:       "/recruit history [개수]",
			Access:      router.AccessEveryone,
			Handle:      p.cmdHistory,
		},
		{
			Route:       "recruit alert",
			Description: "모집 알림 태그 설정",
			Usage:       "/recruit alert <텍스트|off>",
			Access:      router.AccessOwnerOnly,
			Handle:      p.cmdAlert,
		},
		{
			Route:       "recruit capacity",
			Description: "기본 모집 인원 설정",
			Usage:       "/recruit capacity <숫자|off>",
			Access:      router.AccessOwnerOnly,
			Handle:      p.cmdCapacity,
		},
	}
}

// splitFields cuts "제목 | 출발 | 인원 | 마감" into exactly four trimmed
// fields. Extra separators stay in the last field.
func splitFields(args []string) [4]string {
	var out [4]string
	parts := strings.SplitN(strings.Join(args, " "), "|", 4)
	for i, s := range parts {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

func (p *Plugin) cmdOpen(ctx context.Context, req *router.Request) error {
	f := splitFields(req.Args)
	if f[0] == "" {
		_, err := req.Reply(ctx, "사용법: "+usageRecruit, nil)
		return err
	}

	chat := p.chatSettings(ctx, req.Chat.ChatID)
	alert := chat.Alert
	if v, ok := req.Flags["alert"]; ok {
		alert = v
	}
	capacity := f[2]
	if capacity == "" && chat.DefaultCapacity > 0 {
		capacity = strconv.Itoa(chat.DefaultCapacity)
	}

	opened, err := p.coord.Open(ctx, recruit.OpenRequest{
		Origin:    recruit.Origin{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID},
		Organizer: recruit.Member{ID: req.FromID, Name: req.FromName},
		Title:     f[0],
		Meetup:    f[1],
		Capacity:  capacity,
		Deadline:  f[3],
		Alert:     alert,
	})
	if err != nil {
		if errors.Is(err, recruit.ErrEmptyTitle) {
			_, rerr := req.Reply(ctx, "사용법: "+usageRecruit, nil)
			return rerr
		}
		_, _ = req.Reply(ctx, "🚨 입력 형식이 잘못되었습니다: "+err.Error(), nil)
		return err
	}
	snap := opened.Snapshot

	if opened.DeadlineErr != nil {
		loc := p.settings().core.Location
		msg := fmt.Sprintf("⚠️ 마감 시간을 이해하지 못해 %s 까지로 정했습니다. (%v)", deadlineLabel(snap, loc), opened.DeadlineErr)
		if _, err := req.Reply(ctx, msg, nil); err != nil {
			p.Log.Debug("deadline warning not sent", logx.Err(err))
		}
	}
	_ = p.AppendAudit(ctx, storage.AuditEntry{
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		ThreadID:      req.Chat.ThreadID,
		Action:        "open",
		Target:        snap.ID,
		OK:            1,
		MetaJSON:      fmt.Sprintf(`{"capacity":%d,"deadline":%q}`, snap.Capacity, snap.Deadline.Format(time.RFC3339)),
	})
	return nil
}

func (p *Plugin) cmdList(ctx context.Context, req *router.Request) error {
	open := p.coord.Registry().OpenIn(req.Chat.ChatID)
	if len(open) == 0 {
		_, err := req.Reply(ctx, "진행 중인 모집이 없습니다.", nil)
		return err
	}
	loc := p.settings().core.Location
	b := tgui.New().Title("📋", "진행 중인 모집")
	for _, s := range open {
		b.HTML(tgui.JoinH(" ",
			tgui.Raw("•"),
			tgui.B(tgui.TruncRunes(s.Title, titleRunes)),
			tgui.Esc(fmt.Sprintf("%d/%d명, %s 마감", s.Count, s.Capacity, deadlineLabel(s, loc))),
			tgui.Esc("("+tgui.TruncRunes(s.Organizer.Name, nameRunes)+")"),
		))
	}
	_, err := b.Build().Reply(ctx, req.Adapter, req.Chat, req.MessageID)
	return err
}

func (p *Plugin) cmdHistory(ctx context.Context, req *router.Request) error {
	st := p.Store()
	if st == nil {
		_, _ = req.Reply(ctx, "기록 저장소가 꺼져 있습니다.", nil)
		return errNoStore
	}
	limit := p.settings().historyLimit
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n <= 0 {
			_, rerr := req.Reply(ctx, "사용법: /recruit history [개수]", nil)
			return rerr
		}
		limit = min(n, 50)
	}
	recs, err := st.RecentSessions(ctx, req.Chat.ChatID, limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		_, err := req.Reply(ctx, "종료된 모집 기록이 없습니다.", nil)
		return err
	}
	loc := p.settings().core.Location
	b := tgui.New().Title("🗂", "최근 모집 기록")
	for _, r := range recs {
		b.HTML(tgui.JoinH(" ",
			tgui.Raw("•"),
			tgui.Esc(r.ClosedAt.In(loc).Format("1/2 15:04")),
			tgui.B(tgui.TruncRunes(r.Title, titleRunes)),
			tgui.Esc(fmt.Sprintf("%d/%d명", r.Count, r.Capacity)),
			tgui.I(reasonLabel(r.Reason)),
		))
	}
	_, err = b.Build().Reply(ctx, req.Adapter, req.Chat, req.MessageID)
	return err
}

func (p *Plugin) cmdAlert(ctx context.Context, req *router.Request) error {
	text := strings.TrimSpace(strings.Join(req.Args, " "))
	if text == "" {
		cur := p.chatSettings(ctx, req.Chat.ChatID).Alert
		if cur == "" {
			cur = "(없음)"
		}
		_, err := req.Reply(ctx, "현재 알림: "+cur+"\n사용법: /recruit alert <텍스트|off>", nil)
		return err
	}
	if strings.EqualFold(text, "off") {
		text = ""
	}
	err := p.updateChat(ctx, req, func(cs *storage.ChatSettings) { cs.Alert = tgui.TruncRunes(text, 64) })
	if err != nil {
		return p.replyStoreErr(ctx, req, err)
	}
	msg := "✅ 모집 알림을 껐습니다."
	if text != "" {
		msg = "✅ 모집 알림: " + text
	}
	_, err = req.Reply(ctx, msg, nil)
	return err
}

func (p *Plugin) cmdCapacity(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		cur := p.chatSettings(ctx, req.Chat.ChatID).DefaultCapacity
		if cur <= 0 {
			cur = p.settings().core.DefaultCapacity
		}
		_, err := req.Reply(ctx, fmt.Sprintf("기본 인원: %d명\n사용법: /recruit capacity <숫자|off>", cur), nil)
		return err
	}
	n := 0
	if !strings.EqualFold(req.Args[0], "off") {
		n = recruit.ParseCapacity(req.Args[0], 0)
		maxCap := p.settings().core.MaxCapacity
		if n <= 0 || (maxCap > 0 && n > maxCap) {
			_, err := req.Reply(ctx, fmt.Sprintf("1부터 %d 사이의 숫자를 입력하세요.", maxCap), nil)
			return err
		}
	}
	err := p.updateChat(ctx, req, func(cs *storage.ChatSettings) { cs.DefaultCapacity = n })
	if err != nil {
		return p.replyStoreErr(ctx, req, err)
	}
	msg := "✅ 기본 인원을 초기화했습니다."
	if n > 0 {
		msg = fmt.Sprintf("✅ 기본 인원: %d명", n)
	}
	_, err = req.Reply(ctx, msg, nil)
	return err
}

// chatSettings is best effort: without storage or on a read error the
// chat simply has no overrides.
func (p *Plugin) chatSettings(ctx context.Context, chatID int64) storage.ChatSettings {
	st := p.Store()
	if st == nil {
		return storage.ChatSettings{ChatID: chatID}
	}
	cs, _, err := st.GetChatSettings(ctx, chatID)
	if err != nil {
		p.Log.Warn("chat settings read failed", logx.Int64("chat", chatID), logx.Err(err))
		return storage.ChatSettings{ChatID: chatID}
	}
	cs.ChatID = chatID
	return cs
}

func (p *Plugin) updateChat(ctx context.Context, req *router.Request, mutate func(*storage.ChatSettings)) error {
	st := p.Store()
	if st == nil {
		return errNoStore
	}
	cs, _, err := st.GetChatSettings(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	cs.ChatID = req.Chat.ChatID
	mutate(&cs)
	cs.UpdatedBy = req.FromID
	cs.UpdatedAt = p.now()
	if err := st.PutChatSettings(ctx, cs); err != nil {
		return err
	}
	_ = p.AppendAudit(ctx, storage.AuditEntry{
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		Action:        "settings",
		Target:        req.Command,
		OK:            1,
	})
	return nil
}

func (p *Plugin) replyStoreErr(ctx context.Context, req *router.Request, err error) error {
	text := "설정을 저장하지 못했습니다."
	if errors.Is(err, errNoStore) {
		text = "설정 저장소가 꺼져 있습니다."
	}
	_, _ = req.Adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{ReplyToMessageID: req.MessageID})
	return err
}

func reasonLabel(reason string) string {
	switch reason {
	case recruit.CloseFull.String():
		return "정원 마감"
	case recruit.CloseDeadline.String():
		return "시간 마감"
	case recruit.CloseManual.String():
		return "수동 마감"
	default:
		return reason
	}
}
