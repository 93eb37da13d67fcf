package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence port used by the notifier, router and plugins.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	GetChatSettings(ctx context.Context, chatID int64) (ChatSettings, bool, error)
	PutChatSettings(ctx context.Context, s ChatSettings) error

	ArchiveSession(ctx context.Context, r SessionRecord) error
	// RecentSessions returns up to limit archived sessions of chatID, newest first.
	RecentSessions(ctx context.Context, chatID int64, limit int) ([]SessionRecord, error)

	// Prune drops expired dedup marks and archive records closed before
	// before. It returns the number of archive records removed.
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// AuditEntry records an operator action.
type AuditEntry struct {
	At            time.Time
	ActorID       int64
	ActorUsername string
	ChatID        int64
	ThreadID      int
	Plugin        string
	Action        string
	Target        string
	OK            int
	Fail          int
	Error         string
	TookMS        int64
	MetaJSON      string
}

// ChatSettings are per-chat recruit defaults set by chat owners.
type ChatSettings struct {
	ChatID          int64     `json:"chat_id"`
	Alert           string    `json:"alert,omitempty"`
	DefaultCapacity int       `json:"default_capacity,omitempty"`
	UpdatedBy       int64     `json:"updated_by,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SessionRecord is a closed recruitment.
type SessionRecord struct {
	ID            string    `json:"id"`
	ChatID        int64     `json:"chat_id"`
	ThreadID      int       `json:"thread_id,omitempty"`
	Title         string    `json:"title"`
	Meetup        string    `json:"meetup,omitempty"`
	OrganizerID   int64     `json:"organizer_id"`
	OrganizerName string    `json:"organizer_name"`
	Capacity      int       `json:"capacity"`
	Count         int       `json:"count"`
	Reason        string    `json:"reason"`
	Participants  []string  `json:"participants"`
	Deadline      time.Time `json:"deadline"`
	CreatedAt     time.Time `json:"created_at"`
	ClosedAt      time.Time `json:"closed_at"`
}
