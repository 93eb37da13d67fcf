package recruit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"partybot/internal/eventbus"
	logx "partybot/pkg/logx"
)

// Observer renders and delivers. It is called after the session lock is
// released, with snapshots of the committed state; a failing Observer can
// never roll a session back.
type Observer interface {
	SessionOpened(ctx context.Context, snap Snapshot)
	SessionChanged(ctx context.Context, snap Snapshot)
	ParticipantJoined(ctx context.Context, snap Snapshot, m Member)
	// SessionClosed runs exactly once per session.
	SessionClosed(ctx context.Context, res CloseResult)
}

// Actions is what the chat surface may do to a session.
type Actions interface {
	OnJoin(ctx context.Context, sessionID string, m Member, role Role) (JoinResult, error)
	OnLeave(ctx context.Context, sessionID string, memberID int64) (LeaveResult, error)
	OnForceClose(ctx context.Context, sessionID string, callerID int64) (CloseResult, error)
}

const (
	EventOpened = "recruit.opened"
	EventJoined = "recruit.joined"
	EventLeft   = "recruit.left"
	EventClosed = "recruit.closed"
)

// Event is the payload published on the bus.
type Event struct {
	SessionID string
	ChatID    int64
	MemberID  int64
	Role      Role
	Reason    CloseReason
	Count     int
	Capacity  int
}

type Config struct {
	DefaultCapacity int
	// MaxCapacity caps organizer input. Zero means no cap.
	MaxCapacity     int
	DefaultDeadline string
	Location        *time.Location
	// SweepGrace is how long past its deadline an open session may sit
	// before the sweep expires it.
	SweepGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultCapacity: DefaultCapacity,
		MaxCapacity:     48,
		DefaultDeadline: "30분",
		Location:        KST,
		SweepGrace:      time.Minute,
	}
}

type Option func(*Coordinator)

func WithLogger(log logx.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

func WithBus(bus eventbus.Bus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// WithClock replaces time.Now for deadlines and the sweep.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithConfig(cfg Config) Option {
	return func(c *Coordinator) { c.cfg = cfg }
}

// Coordinator owns the registry and wires parser, sessions, deadline
// timers and the Observer together.
type Coordinator struct {
	mu  sync.RWMutex
	cfg Config

	reg *Registry
	exp *Expirer
	obs Observer
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time
}

var _ Actions = (*Coordinator)(nil)

func NewCoordinator(sched OnceScheduler, obs Observer, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg: DefaultConfig(),
		reg: NewRegistry(),
		obs: obs,
		now: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.exp = NewExpirer(sched, c.finish)
	return c
}

func (c *Coordinator) Registry() *Registry { return c.reg }

// Apply swaps the config. Existing sessions keep their capacity and deadline.
func (c *Coordinator) Apply(cfg Config) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

func (c *Coordinator) config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// OpenRequest is the organizer's raw input.
type OpenRequest struct {
	Origin    Origin
	Organizer Member
	Title     string
	Meetup    string
	Capacity  string
	Deadline  string
	Alert     string
}

// Opened reports a created session. DeadlineErr is set when the deadline
// text had an out-of-range field and the fallback deadline was used.
type Opened struct {
	Snapshot    Snapshot
	DeadlineErr error
}

func (c *Coordinator) Open(ctx context.Context, req OpenRequest) (Opened, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return Opened{}, ErrEmptyTitle
	}
	cfg := c.config()

	capacity := ParseCapacity(req.Capacity, cfg.DefaultCapacity)
	if cfg.MaxCapacity > 0 && capacity > cfg.MaxCapacity {
		capacity = cfg.MaxCapacity
	}
	text := strings.TrimSpace(req.Deadline)
	if text == "" {
		text = cfg.DefaultDeadline
	}
	now := c.now()
	deadline, derr := DeadlineParser{Location: cfg.Location}.Resolve(text, now)

	var s *Session
	for {
		s = NewSession(Draft{
			ID:        NewID(),
			Origin:    req.Origin,
			Organizer: req.Organizer,
			Title:     title,
			Meetup:    strings.TrimSpace(req.Meetup),
			Alert:     strings.TrimSpace(req.Alert),
			Capacity:  capacity,
			Deadline:  deadline,
			CreatedAt: now,
		})
		err := c.reg.Add(s)
		if err == nil {
			break
		}
		if !errors.Is(err, errDuplicateID) {
			return Opened{}, err
		}
	}

	snap := s.Snapshot()
	c.obs.SessionOpened(ctx, snap)
	if err := c.exp.Arm(s, deadline); err != nil {
		// The sweep still expires it.
		c.log.Warn("deadline arm failed", logx.String("session", s.ID()), logx.Err(err))
	}

	c.publish(EventOpened, Event{SessionID: s.ID(), ChatID: req.Origin.ChatID, MemberID: req.Organizer.ID, Capacity: capacity})
	c.log.Info("session opened",
		logx.String("session", s.ID()),
		logx.Int64("chat", req.Origin.ChatID),
		logx.Int("capacity", capacity),
		logx.Time("deadline", deadline),
		logx.Bool("deadline_fallback", derr != nil),
	)
	return Opened{Snapshot: snap, DeadlineErr: derr}, nil
}

func (c *Coordinator) lookup(id string) (*Session, error) {
	s, ok := c.reg.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (c *Coordinator) OnJoin(ctx context.Context, sessionID string, m Member, role Role) (JoinResult, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return JoinResult{}, err
	}
	res, err := s.Join(m, role)
	if err != nil {
		return res, err
	}

	switch res.Outcome {
	case Joined:
		if !res.Close.Transitioned {
			c.obs.SessionChanged(ctx, res.Snapshot)
		}
		c.obs.ParticipantJoined(ctx, res.Snapshot, m)
		c.publish(EventJoined, Event{
			SessionID: sessionID, ChatID: res.Snapshot.Origin.ChatID, MemberID: m.ID,
			Role: role, Count: res.Snapshot.Count, Capacity: res.Snapshot.Capacity,
		})
		if res.Close.Transitioned {
			c.finish(ctx, res.Close)
		}
	case JoinFull:
		if res.Previous.Valid() {
			c.obs.SessionChanged(ctx, res.Snapshot)
		}
	}
	return res, nil
}

func (c *Coordinator) OnLeave(ctx context.Context, sessionID string, memberID int64) (LeaveResult, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return LeaveResult{}, err
	}
	res := s.Leave(memberID)
	if res.Outcome == Left {
		c.obs.SessionChanged(ctx, res.Snapshot)
		c.publish(EventLeft, Event{
			SessionID: sessionID, ChatID: res.Snapshot.Origin.ChatID, MemberID: memberID,
			Role: res.Role, Count: res.Snapshot.Count, Capacity: res.Snapshot.Capacity,
		})
	}
	return res, nil
}

func (c *Coordinator) OnForceClose(ctx context.Context, sessionID string, callerID int64) (CloseResult, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return CloseResult{}, err
	}
	res, err := s.ForceClose(callerID)
	if err != nil {
		return res, err
	}
	if res.Transitioned {
		c.finish(ctx, res)
	}
	return res, nil
}

// finish runs once per session, for whichever trigger won the close.
func (c *Coordinator) finish(ctx context.Context, res CloseResult) {
	id := res.Snapshot.ID
	c.exp.Disarm(id)
	c.obs.SessionChanged(ctx, res.Snapshot)
	c.obs.SessionClosed(ctx, res)
	c.reg.Remove(id)

	c.publish(EventClosed, Event{
		SessionID: id, ChatID: res.Snapshot.Origin.ChatID, Reason: res.Reason,
		Count: res.Snapshot.Count, Capacity: res.Snapshot.Capacity,
	})
	c.log.Info("session closed",
		logx.String("session", id),
		logx.String("reason", res.Reason.String()),
		logx.Int("participants", len(res.Participants)),
	)
}

// Sweep expires open sessions whose deadline job never ran. It returns how
// many it closed.
func (c *Coordinator) Sweep(ctx context.Context) int {
	n := 0
	for _, s := range c.reg.overdue(c.now(), c.config().SweepGrace) {
		res := s.Expire()
		if res.Transitioned {
			c.log.Warn("expiring overdue session", logx.String("session", s.ID()), logx.Time("deadline", s.Deadline()))
			c.finish(ctx, res)
			n++
		}
	}
	return n
}

func (c *Coordinator) publish(typ string, e Event) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: typ, Data: e})
}
