package recruit

import (
	"context"
	"strings"
	"sync"
	"time"

	"partybot/internal/recruit"
	"partybot/internal/storage"
	kit "partybot/internal/transport"
	logx "partybot/pkg/logx"
)

// card is the chat message showing one session. Edits of the same card
// are serialized and always draw the newest state.
type card struct {
	mu     sync.Mutex
	ref    kit.MessageRef
	last   string
	closed bool
}

// board renders sessions into chat cards and delivers the join and close
// notices. It implements recruit.Observer.
type board struct {
	p *Plugin

	mu    sync.Mutex
	cards map[string]*card
}

var _ recruit.Observer = (*board)(nil)

func newBoard(p *Plugin) *board {
	return &board{p: p, cards: make(map[string]*card)}
}

func (b *board) get(id string) *card {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cards[id]
}

func (b *board) take(id string) *card {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.cards[id]
	delete(b.cards, id)
	return c
}

func (b *board) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cards)
}

func (b *board) log() logx.Logger { return b.p.Log }

func (b *board) SessionOpened(ctx context.Context, snap recruit.Snapshot) {
	msg := renderCard(snap, b.p.settings().core.Location)
	to := kit.ChatTarget{ChatID: snap.Origin.ChatID, ThreadID: snap.Origin.ThreadID}
	ref, err := msg.Send(ctx, b.p.Deps.Adapter, to)
	if err != nil {
		b.log().Warn("card send failed", logx.String("session", snap.ID), logx.Int64("chat", snap.Origin.ChatID), logx.Err(err))
		return
	}
	b.mu.Lock()
	b.cards[snap.ID] = &card{ref: ref, last: msg.Text}
	b.mu.Unlock()
}

func (b *board) SessionChanged(ctx context.Context, snap recruit.Snapshot) {
	c := b.get(snap.ID)
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	latest := snap
	if !snap.Closed() {
		if s, ok := b.p.coord.Registry().Get(snap.ID); ok {
			latest = s.Snapshot()
		}
	}
	msg := renderCard(latest, b.p.settings().core.Location)
	c.closed = latest.Closed()
	if msg.Text == c.last && !c.closed {
		return
	}
	if err := msg.Edit(ctx, b.p.Deps.Adapter, c.ref); err != nil {
		if isNotModified(err) {
			c.last = msg.Text
			return
		}
		b.log().Warn("card edit failed", logx.String("session", snap.ID), logx.Err(err))
		return
	}
	c.last = msg.Text
}

func (b *board) ParticipantJoined(ctx context.Context, snap recruit.Snapshot, m recruit.Member) {
	if !b.p.settings().notifyOrganizer || m.ID == snap.Organizer.ID {
		return
	}
	err := b.p.Notify(ctx, kit.Notification{
		Target:  kit.ChatTarget{ChatID: snap.Organizer.ID},
		Text:    joinedText(snap, m),
		Options: &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
	})
	if err != nil {
		b.log().Debug("join notice not queued", logx.String("session", snap.ID), logx.Err(err))
	}
}

func (b *board) SessionClosed(ctx context.Context, res recruit.CloseResult) {
	snap := res.Snapshot
	c := b.take(snap.ID)

	if text := closingText(res); text != "" {
		opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
		if c != nil {
			opt.ReplyToMessageID = c.ref.MessageID
		}
		err := b.p.Notify(ctx, kit.Notification{
			Priority: 1,
			Target:   kit.ChatTarget{ChatID: snap.Origin.ChatID, ThreadID: snap.Origin.ThreadID},
			Text:     text,
			Options:  opt,
			DedupKey: "recruit:closed:" + snap.ID,
		})
		if err != nil {
			b.log().Warn("closing notice not queued", logx.String("session", snap.ID), logx.Err(err))
		}
	}

	b.archive(ctx, res)
	b.p.PublishEvent("recruit.archived", snap.ID)
}

func (b *board) archive(ctx context.Context, res recruit.CloseResult) {
	st := b.p.Store()
	if st == nil {
		return
	}
	snap := res.Snapshot
	names := make([]string, 0, len(res.Participants))
	for _, m := range res.Participants {
		names = append(names, m.Name)
	}
	rec := storage.SessionRecord{
		ID:            snap.ID,
		ChatID:        snap.Origin.ChatID,
		ThreadID:      snap.Origin.ThreadID,
		Title:         snap.Title,
		Meetup:        snap.Meetup,
		OrganizerID:   snap.Organizer.ID,
		OrganizerName: snap.Organizer.Name,
		Capacity:      snap.Capacity,
		Count:         snap.Count,
		Reason:        res.Reason.String(),
		Participants:  names,
		Deadline:      snap.Deadline,
		CreatedAt:     snap.CreatedAt,
		ClosedAt:      snap.ClosedAt,
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := st.ArchiveSession(actx, rec); err != nil {
		b.log().Warn("archive failed", logx.String("session", snap.ID), logx.Err(err))
	}
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}
