package recruit

import (
	"sync"
	"time"
)

type State int

const (
	StateOpen State = iota
	StateClosed
)

func (s State) String() string {
	if s == StateClosed {
		return "closed"
	}
	return "open"
}

// CloseReason records which trigger closed a session.
type CloseReason int

const (
	CloseNone CloseReason = iota
	CloseManual
	CloseFull
	CloseDeadline
)

func (r CloseReason) String() string {
	switch r {
	case CloseManual:
		return "manual"
	case CloseFull:
		return "full"
	case CloseDeadline:
		return "deadline"
	default:
		return "none"
	}
}

// Member is a participant identity plus the name shown on the card.
type Member struct {
	ID   int64
	Name string
}

// Origin is where a session was announced.
type Origin struct {
	ChatID   int64
	ThreadID int
}

// Draft carries everything fixed at creation.
type Draft struct {
	ID        string
	Origin    Origin
	Organizer Member
	Title     string
	Meetup    string
	Alert     string
	Capacity  int
	Deadline  time.Time
	CreatedAt time.Time
}

type JoinOutcome int

const (
	Joined JoinOutcome = iota
	JoinFull
	JoinAlreadyClosed
)

func (o JoinOutcome) String() string {
	switch o {
	case Joined:
		return "joined"
	case JoinFull:
		return "full"
	default:
		return "already_closed"
	}
}

type JoinResult struct {
	Outcome JoinOutcome
	Role    Role
	// Previous is the slot vacated by this call, NoRole if none. A Full
	// rejection still vacates it.
	Previous Role
	// Close is set when this join filled the session.
	Close    CloseResult
	Snapshot Snapshot
}

type LeaveOutcome int

const (
	Left LeaveOutcome = iota
	LeaveNotJoined
	LeaveAlreadyClosed
)

type LeaveResult struct {
	Outcome  LeaveOutcome
	Role     Role
	Snapshot Snapshot
}

// CloseResult is returned by every close path. Transitioned is true for
// exactly one caller per session; that caller owns the announcement.
type CloseResult struct {
	Transitioned bool
	Reason       CloseReason
	Participants []Member
	Snapshot     Snapshot
}

// Session is one recruitment. All methods are safe for concurrent use and
// hold the session lock only for in-memory work.
type Session struct {
	mu sync.Mutex

	id        string
	origin    Origin
	organizer Member
	title     string
	meetup    string
	alert     string
	capacity  int
	deadline  time.Time
	createdAt time.Time

	slots [RoleCount][]Member
	held  map[int64]Role
	// participants in first-join order; same identities as held
	participants []Member
	count        int

	state    State
	reason   CloseReason
	closedAt time.Time
}

// NewSession builds an open session. Capacity below one is raised to one.
func NewSession(d Draft) *Session {
	if d.Capacity < 1 {
		d.Capacity = 1
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	return &Session{
		id:        d.ID,
		origin:    d.Origin,
		organizer: d.Organizer,
		title:     d.Title,
		meetup:    d.Meetup,
		alert:     d.Alert,
		capacity:  d.Capacity,
		deadline:  d.Deadline,
		createdAt: d.CreatedAt,
		held:      map[int64]Role{},
	}
}

func (s *Session) ID() string          { return s.id }
func (s *Session) Deadline() time.Time { return s.deadline }
func (s *Session) Organizer() Member   { return s.organizer }

// Join moves m into role. Any slot m held is vacated first; if the session
// is then still at capacity the join is rejected and m holds no slot.
// A join that reaches capacity closes the session in the same step.
func (s *Session) Join(m Member, role Role) (JoinResult, error) {
	if !role.Valid() {
		return JoinResult{}, ErrUnknownRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res := JoinResult{Role: role, Previous: NoRole}
	if s.state == StateClosed {
		res.Outcome = JoinAlreadyClosed
		res.Snapshot = s.snapshotLocked()
		return res, nil
	}

	if prev, ok := s.vacateLocked(m.ID); ok {
		res.Previous = prev
	}
	if s.count >= s.capacity {
		s.dropParticipantLocked(m.ID)
		res.Outcome = JoinFull
		res.Snapshot = s.snapshotLocked()
		return res, nil
	}

	s.slots[role] = append(s.slots[role], m)
	s.held[m.ID] = role
	s.count++
	s.addParticipantLocked(m)
	res.Outcome = Joined

	if s.count == s.capacity {
		res.Close = s.closeLocked(CloseFull)
	}
	res.Snapshot = s.snapshotLocked()
	return res, nil
}

// Leave frees whatever slot id holds.
func (s *Session) Leave(id int64) LeaveResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return LeaveResult{Outcome: LeaveAlreadyClosed, Role: NoRole, Snapshot: s.snapshotLocked()}
	}
	role, ok := s.vacateLocked(id)
	if !ok {
		return LeaveResult{Outcome: LeaveNotJoined, Role: NoRole, Snapshot: s.snapshotLocked()}
	}
	s.dropParticipantLocked(id)
	return LeaveResult{Outcome: Left, Role: role, Snapshot: s.snapshotLocked()}
}

// ForceClose is the organizer's manual close. Anyone else gets
// ErrNotAuthorized, whatever the state.
func (s *Session) ForceClose(callerID int64) (CloseResult, error) {
	if callerID != s.organizer.ID {
		return CloseResult{}, ErrNotAuthorized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked(CloseManual), nil
}

// Expire is the deadline close. It has no caller to authorize.
func (s *Session) Expire() CloseResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked(CloseDeadline)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) closeLocked(reason CloseReason) CloseResult {
	transitioned := s.state == StateOpen
	if transitioned {
		s.state = StateClosed
		s.reason = reason
		s.closedAt = time.Now()
	}
	return CloseResult{
		Transitioned: transitioned,
		Reason:       s.reason,
		Participants: append([]Member(nil), s.participants...),
		Snapshot:     s.snapshotLocked(),
	}
}

func (s *Session) vacateLocked(id int64) (Role, bool) {
	role, ok := s.held[id]
	if !ok {
		return NoRole, false
	}
	slot := s.slots[role]
	for i, m := range slot {
		if m.ID == id {
			s.slots[role] = append(slot[:i:i], slot[i+1:]...)
			break
		}
	}
	delete(s.held, id)
	s.count--
	return role, true
}

func (s *Session) addParticipantLocked(m Member) {
	for i, p := range s.participants {
		if p.ID == m.ID {
			s.participants[i] = m
			return
		}
	}
	s.participants = append(s.participants, m)
}

func (s *Session) dropParticipantLocked(id int64) {
	for i, p := range s.participants {
		if p.ID == id {
			s.participants = append(s.participants[:i:i], s.participants[i+1:]...)
			return
		}
	}
}
