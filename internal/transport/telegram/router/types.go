package router

import (
	"context"
	"time"

	"partybot/internal/config"
	"partybot/internal/eventbus"
	"partybot/internal/storage"
	"partybot/internal/task/scheduler"
	kit "partybot/internal/transport"
	logx "partybot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	// Route is a space-separated command path, e.g.:
	//   "recruit"
	//   "recruit alert"
	Route       string
	Aliases     []string // root-level aliases, e.g. ["party"]
	Description string
	Usage       string
	Access      Access

	PluginName string
	Timeout    time.Duration // optional per-command override
	Handle     HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackAccess controls who can trigger an inline-button callback.
// The zero value is owner-only; public buttons opt in with
// CallbackAccessEveryone.
type CallbackAccess int

const (
	CallbackAccessOwnerOnly CallbackAccess = iota
	CallbackAccessEveryone
)

// CallbackRoute handles callback data of the form "<plugin>:<action>[:<payload>]".
type CallbackRoute struct {
	Plugin      string
	Action      string
	Description string
	Access      CallbackAccess
	Timeout     time.Duration
	Handle      CallbackHandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	FromName     string
	// MessageID is the command message, or the message carrying the
	// pressed button for callbacks.
	MessageID int
	IsGroup   bool

	Path    []string // matched command path tokens (for message updates)
	Command string   // route or "cb:<plugin>:<action>"
	Args    []string
	Payload string // callback payload

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter     kit.Adapter
	Config      *config.Config
	Logger      logx.Logger
	Services    *Services
	OwnerUserID []int64

	toast string
}

// Toast sets the text shown to the user when a callback is answered.
func (r *Request) Toast(text string) { r.toast = text }

// ToastText reports what Toast set.
func (r *Request) ToastText() string { return r.toast }

func (r *Request) IsOwner() bool { return isOwner(r.FromID, r.OwnerUserID) }

// Reply sends text to the request chat as a reply to the request message.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	o := kit.SendOptions{DisablePreview: true}
	if opt != nil {
		o = *opt
	}
	if o.ReplyToMessageID == 0 {
		o.ReplyToMessageID = r.MessageID
	}
	return r.Adapter.SendText(ctx, r.Chat, text, &o)
}

type Services struct {
	Scheduler SchedulerPort
	Notifier  NotifierPort
	Store     storage.Store
	Bus       eventbus.Bus

	// AppSupervisor is set once the app is running; nil in tests.
	AppSupervisor *Supervisor
	// RuntimeSupervisors exposes subsystem supervisors for /status.
	RuntimeSupervisors *SupervisorRegistry
}

type SchedulerPort interface {
	Enabled() bool
	Snapshot() scheduler.Snapshot

	AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddInterval(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddOnce(name string, at time.Time, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
}

type NotifierPort interface {
	Notify(ctx context.Context, n kit.Notification) error
}
