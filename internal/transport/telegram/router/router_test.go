package router

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"

	kit "partybot/internal/transport"
	logx "partybot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	texts   []string
	answers map[string]string
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answers == nil {
		f.answers = map[string]string{}
	}
	f.answers[callbackID] = text
	return nil
}

// runQueued executes every job waiting in the dispatcher queue.
func runQueued(m *CommandManager) int {
	n := 0
	for {
		select {
		case job := <-m.jobs:
			job()
			n++
		default:
			return n
		}
	}
}

func message(text string, from int64) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 9, ChatID: -1, FromID: from, FromName: "tester", Text: text, IsGroup: true}}
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{`/recruit a b`, []string{"/recruit", "a", "b"}},
		{`/recruit "저녁 레이드" | 4`, []string{"/recruit", "저녁 레이드", "|", "4"}},
		{`/x 'it''s' a\ b`, []string{"/x", "its", "a b"}},
		{"   ", nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := tokenizeCommandLine(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("tokenizeCommandLine(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()
	pos, flags, bools := parseFlags([]string{"레이드", "-5", "--alert=@here", "-n", "4", "-", "--dry"})
	if want := []string{"레이드", "-5", "-"}; !reflect.DeepEqual(pos, want) {
		t.Fatalf("pos = %q, want %q", pos, want)
	}
	if flags["alert"] != "@here" || flags["n"] != "4" {
		t.Fatalf("flags = %v", flags)
	}
	if !bools["dry"] {
		t.Fatalf("bools = %v, want dry", bools)
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"recruit", "recruit"},
		{"Recruit Alert", "recruit_alert"},
		{"party--list", "party_list"},
		{"모집", ""},
		{"1up", "cmd_1up"},
		{strings.Repeat("a", 40), strings.Repeat("a", 32)},
	}
	for _, tt := range tests {
		if got := sanitizeTelegramCommand(tt.in); got != tt.want {
			t.Fatalf("sanitizeTelegramCommand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRouteMessage(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), a, nil, nil, []int64{1})

	var got *Request
	handle := func(ctx context.Context, req *Request) error {
		got = req
		return nil
	}
	m.SetRegistry([]Command{
		{Route: "recruit", Aliases: []string{"party", "모집"}, Handle: handle},
		{Route: "recruit alert", Access: AccessOwnerOnly, Handle: handle},
	}, nil)

	tests := []struct {
		name    string
		text    string
		from    int64
		command string
		args    []string
	}{
		{"root", "/recruit 레이드 | 4", 2, "recruit", []string{"레이드", "|", "4"}},
		{"bot suffix", "/recruit@party_bot x", 2, "recruit", []string{"x"}},
		{"alias", "/party x", 2, "recruit", []string{"x"}},
		{"hangul alias", "/모집 x", 2, "recruit", []string{"x"}},
		{"subcommand", "/recruit alert @here", 1, "recruit alert", []string{"@here"}},
		{"menu alias", "/recruit_alert @here", 1, "recruit alert", []string{"@here"}},
	}
	for _, tt := range tests {
		got = nil
		m.routeUpdate(context.Background(), message(tt.text, tt.from))
		if n := runQueued(m); n != 1 {
			t.Fatalf("%s: ran %d jobs, want 1", tt.name, n)
		}
		if got == nil || got.Command != tt.command || !reflect.DeepEqual(got.Args, tt.args) {
			t.Fatalf("%s: request = %+v", tt.name, got)
		}
		if got.MessageID != 9 || got.FromName != "tester" {
			t.Fatalf("%s: origin not carried: %+v", tt.name, got)
		}
	}
}

func TestRouteMessageAccess(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), a, nil, nil, []int64{1})
	called := false
	m.SetRegistry([]Command{{Route: "recruit alert", Access: AccessOwnerOnly, Handle: func(ctx context.Context, req *Request) error {
		called = true
		return nil
	}}}, nil)

	m.routeUpdate(context.Background(), message("/recruit alert x", 2))
	runQueued(m)
	if called {
		t.Fatalf("owner-only command ran for a non-owner")
	}
	if len(a.texts) != 1 || a.texts[0] != msgUnauthorized {
		t.Fatalf("texts = %q, want unauthorized reply", a.texts)
	}

	// unknown commands stay silent in groups
	m.routeUpdate(context.Background(), message("/nope", 2))
	if len(a.texts) != 1 {
		t.Fatalf("unknown group command replied: %q", a.texts)
	}
}

func TestRouteCallbackToast(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), a, nil, nil, nil)

	var payload string
	m.SetRegistry(nil, []CallbackRoute{
		{Plugin: "recruit", Action: "join", Access: CallbackAccessEveryone, Handle: func(ctx context.Context, req *Request, p string) error {
			payload = p
			req.Toast("참여 완료")
			return nil
		}},
		{Plugin: "recruit", Action: "admin", Handle: func(ctx context.Context, req *Request, p string) error {
			t.Errorf("owner-only callback ran")
			return nil
		}},
	})

	cb := func(id, data string) kit.Update {
		return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: id, FromID: 5, ChatID: -1, MessageID: 3, Data: data}}
	}
	m.routeUpdate(context.Background(), cb("a", "recruit:join:abc.2"))
	m.routeUpdate(context.Background(), cb("b", "recruit:admin"))
	m.routeUpdate(context.Background(), cb("c", "other:thing"))
	runQueued(m)

	if payload != "abc.2" {
		t.Fatalf("payload = %q, want abc.2", payload)
	}
	want := map[string]string{"a": "참여 완료", "b": msgUnauthorized, "c": ""}
	if !reflect.DeepEqual(a.answers, want) {
		t.Fatalf("answers = %v, want %v", a.answers, want)
	}
}

func TestPanicRecovered(t *testing.T) {
	t.Parallel()
	h := Chain(func(ctx context.Context, req *Request) error { panic("boom") }, MWPanicRecover(logx.Nop()), MWRequestLog(logx.Nop()))
	err := h(context.Background(), &Request{})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v, want recovered panic", err)
	}
}

func TestHelpText(t *testing.T) {
	t.Parallel()
	m := NewCommandManager(logx.Nop(), &fakeAdapter{}, nil, nil, nil)
	noop := func(ctx context.Context, req *Request) error { return nil }
	m.SetRegistry([]Command{
		{Route: "recruit", Description: "파티 모집", Usage: "/recruit 제목 | 출발 | 정원 | 마감", Aliases: []string{"party"}, Handle: noop},
		{Route: "recruit list", Description: "진행 중인 모집", Handle: noop},
		{Route: "status", Access: AccessOwnerOnly, Description: "상태", Handle: noop},
	}, nil)

	top := m.helpText(nil)
	for _, want := range []string{"/recruit", "파티 모집", "🔒 <code>/status</code>", "/help"} {
		if !strings.Contains(top, want) {
			t.Fatalf("top help missing %q:\n%s", want, top)
		}
	}
	if strings.Index(top, "/status") < strings.Index(top, "/recruit") {
		t.Fatalf("owner-only command listed before public ones:\n%s", top)
	}

	node := m.helpText([]string{"party"})
	for _, want := range []string{"사용법", "/recruit list", "<code>/party</code>"} {
		if !strings.Contains(node, want) {
			t.Fatalf("node help missing %q:\n%s", want, node)
		}
	}
}

func TestBuildTelegramMenuCommands(t *testing.T) {
	t.Parallel()
	root := newRoot()
	noop := func(ctx context.Context, req *Request) error { return nil }
	cmds := []Command{
		{Route: "recruit", Description: "파티 모집", Handle: noop},
		{Route: "recruit alert", Description: "알림 설정", Access: AccessOwnerOnly, Handle: noop},
	}
	for _, c := range cmds {
		root.add(splitRoute(c.Route), c)
	}
	got := buildTelegramMenuCommands(root, cmds)
	want := []kit.BotCommand{
		{Command: "recruit", Description: "파티 모집"},
		{Command: "recruit_alert", Description: "🔒 알림 설정"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("menu = %+v, want %+v", got, want)
	}
}
