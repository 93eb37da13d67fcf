package recruit

import (
	"strconv"
	"strings"
	"time"

	"partybot/internal/recruit"
	"partybot/pkg/tgui"

	tele "gopkg.in/telebot.v4"
)

const (
	pluginName = "recruit"

	actJoin  = "join"
	actLeave = "leave"
	actClose = "close"

	nameRunes  = 24
	titleRunes = 64
)

// renderCard draws the recruitment card. Open cards carry the role
// keyboard; closed cards carry none.
func renderCard(snap recruit.Snapshot, loc *time.Location) tgui.Message {
	b := tgui.New()

	head := tgui.B("🌲 레이드 모집이 시작되었습니다!")
	if alert := strings.TrimSpace(snap.Alert); alert != "" {
		head = tgui.JoinH(" ", tgui.Esc(alert), head)
	}
	b.HTML(head).Blank()

	title := tgui.TruncRunes(snap.Title, titleRunes)
	if snap.Closed() {
		title += " (모집 종료)"
	}
	b.Title("⚔️", title)
	b.HTML(tgui.JoinH(" ", tgui.B("모집자:"), tgui.Mention(tgui.TruncRunes(snap.Organizer.Name, nameRunes), snap.Organizer.ID)))
	if snap.Meetup != "" {
		b.HTML(tgui.JoinH(" ", tgui.B("📅 출발 시간:"), tgui.Esc(snap.Meetup)))
	}
	b.HTML(tgui.JoinH(" ", tgui.B("👥 정원:"), tgui.Esc(strconv.Itoa(snap.Capacity)+"명 (현재 "+strconv.Itoa(snap.Count)+"명)")))
	b.HTML(tgui.JoinH(" ", tgui.B("⏰ 모집 마감시간:"), tgui.Esc(deadlineLabel(snap, loc)+" 까지")))
	if snap.Closed() {
		b.HTML(tgui.I(closedLabel(snap.Reason)))
	}
	b.Blank()

	for _, rv := range snap.Roster {
		names := "대기 중"
		if len(rv.Members) > 0 {
			parts := make([]string, 0, len(rv.Members))
			for _, m := range rv.Members {
				parts = append(parts, tgui.TruncRunes(m.Name, nameRunes))
			}
			names = strings.Join(parts, ", ")
		}
		b.HTML(tgui.JoinH(" ", tgui.B(rv.Role.Icon()+" "+rv.Role.Label()+":"), tgui.Esc(names)))
	}

	if !snap.Closed() {
		b.Inline(cardKeyboard(snap.ID))
	}
	return b.Build()
}

func cardKeyboard(sessionID string) *tgui.Inline {
	roles := recruit.Roles()
	btns := make([]tele.Btn, 0, len(roles))
	for _, r := range roles {
		btns = append(btns, tgui.Btn(r.Icon()+" "+r.Label(), tgui.Data(pluginName, actJoin, joinPayload(sessionID, r))))
	}
	return tgui.NewInline().
		Grid(2, btns...).
		Row(
			tgui.Btn("취소 (get off)", tgui.Data(pluginName, actLeave, sessionID)),
			tgui.Btn("🏁 마감", tgui.Data(pluginName, actClose, sessionID)),
		)
}

// deadlineLabel is HH:MM, with the date in front when the deadline falls
// on a later day than the session was opened.
func deadlineLabel(snap recruit.Snapshot, loc *time.Location) string {
	if loc == nil {
		loc = recruit.KST
	}
	d := snap.Deadline.In(loc)
	c := snap.CreatedAt.In(loc)
	if d.Year() != c.Year() || d.YearDay() != c.YearDay() {
		return d.Format("1/2 15:04")
	}
	return d.Format("15:04")
}

func closedLabel(reason recruit.CloseReason) string {
	switch reason {
	case recruit.CloseFull:
		return "정원이 모두 찼습니다."
	case recruit.CloseDeadline:
		return "마감 시간이 지났습니다."
	case recruit.CloseManual:
		return "모집자가 마감했습니다."
	default:
		return ""
	}
}

// closingText mentions every participant above the closing line. It is
// empty when nobody joined.
func closingText(res recruit.CloseResult) string {
	if len(res.Participants) == 0 {
		return ""
	}
	mentions := make([]tgui.H, 0, len(res.Participants))
	for _, m := range res.Participants {
		mentions = append(mentions, tgui.Mention(tgui.TruncRunes(m.Name, nameRunes), m.ID))
	}
	return tgui.JoinH(" ", mentions...).String() + "\n" + tgui.B("🏁 모집이 종료되었습니다!").String()
}

func joinedText(snap recruit.Snapshot, m recruit.Member) string {
	return "🔔 " + tgui.B("["+tgui.TruncRunes(snap.Title, titleRunes)+"]").String() + " " +
		tgui.Esc(tgui.TruncRunes(m.Name, nameRunes)).String() + "님 참여!"
}

func joinPayload(sessionID string, r recruit.Role) string {
	return sessionID + "." + strconv.Itoa(int(r))
}

func parseJoinPayload(payload string) (string, recruit.Role, bool) {
	id, idx, ok := strings.Cut(payload, ".")
	if !ok || id == "" {
		return "", recruit.NoRole, false
	}
	n, err := strconv.Atoi(idx)
	if err != nil || !recruit.Role(n).Valid() {
		return "", recruit.NoRole, false
	}
	return id, recruit.Role(n), true
}
