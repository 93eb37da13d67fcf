package recruit

import "time"

// RoleView is one slot of a Snapshot.
type RoleView struct {
	Role    Role
	Members []Member
}

// Snapshot is an immutable copy of a session, safe to hand to renderers.
type Snapshot struct {
	ID        string
	Origin    Origin
	Organizer Member
	Title     string
	Meetup    string
	Alert     string
	Capacity  int
	Count     int
	Roster    []RoleView
	Deadline  time.Time
	State     State
	Reason    CloseReason
	CreatedAt time.Time
	ClosedAt  time.Time
}

func (s Snapshot) Closed() bool { return s.State == StateClosed }

// Members returns every slot holder in catalog order.
func (s Snapshot) Members() []Member {
	out := make([]Member, 0, s.Count)
	for _, rv := range s.Roster {
		out = append(out, rv.Members...)
	}
	return out
}

// RoleOf reports the role id holds, or NoRole.
func (s Snapshot) RoleOf(id int64) Role {
	for _, rv := range s.Roster {
		for _, m := range rv.Members {
			if m.ID == id {
				return rv.Role
			}
		}
	}
	return NoRole
}

func (s *Session) snapshotLocked() Snapshot {
	roster := make([]RoleView, RoleCount)
	for i := range s.slots {
		roster[i] = RoleView{Role: Role(i), Members: append([]Member(nil), s.slots[i]...)}
	}
	return Snapshot{
		ID:        s.id,
		Origin:    s.origin,
		Organizer: s.organizer,
		Title:     s.title,
		Meetup:    s.meetup,
		Alert:     s.alert,
		Capacity:  s.capacity,
		Count:     s.count,
		Roster:    roster,
		Deadline:  s.deadline,
		State:     s.state,
		Reason:    s.reason,
		CreatedAt: s.createdAt,
		ClosedAt:  s.closedAt,
	}
}
