package adapter

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "partybot/internal/transport"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		in        string
		limit     int
		parseMode string
		want      []string
	}{
		{"short", "hello", 10, "", []string{"hello"}},
		{"prefers newline", "aaaa\nbbbbbbb", 8, "", []string{"aaaa", "bbbbbbb"}},
		{"hard cut", "abcdefghij", 4, "", []string{"abcd", "efgh", "ij"}},
		{"keeps tags whole", "ab<b>cd</b>", 4, "HTML", []string{"ab", "<b>c", "d</b", ">"}},
		{"runes not bytes", "가나다라마", 2, "", []string{"가나", "다라", "마"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := splitTelegramText(tt.in, tt.limit, tt.parseMode)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("split = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		u    tele.User
		want string
	}{
		{tele.User{ID: 1, FirstName: "Kim", LastName: "Minji"}, "Kim Minji"},
		{tele.User{ID: 1, FirstName: " Kim "}, "Kim"},
		{tele.User{ID: 1, Username: "minji"}, "minji"},
		{tele.User{ID: 42}, "user42"},
	}
	for _, tt := range tests {
		if got := displayName(&tt.u); got != tt.want {
			t.Fatalf("displayName(%+v) = %q, want %q", tt.u, got, tt.want)
		}
	}
}

func TestToCallback(t *testing.T) {
	t.Parallel()
	cb := &tele.Callback{
		ID:     "cb1",
		Data:   " recruit:join:abc.2 ",
		Sender: &tele.User{ID: 7, FirstName: "Lee", Username: "lee"},
		Message: &tele.Message{
			ID:       99,
			ThreadID: 3,
			Chat:     &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		},
	}
	got := toCallback(cb)
	want := kit.Callback{
		ID: "cb1", FromID: 7, FromUsername: "lee", FromName: "Lee",
		ChatID: -100, ThreadID: 3, MessageID: 99, Data: "recruit:join:abc.2",
	}
	if *got != want {
		t.Fatalf("toCallback = %+v, want %+v", *got, want)
	}
}

func TestMenuCommands(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("가", 300)
	got := menuCommands([]kit.BotCommand{
		{Command: "recruit", Description: "파티 모집"},
		{Command: ""},
		{Command: "help"},
		{Command: "x", Description: long},
	})
	if len(got) != 3 {
		t.Fatalf("commands = %d, want 3", len(got))
	}
	if got[1].Description != "help" {
		t.Fatalf("empty description = %q, want command name", got[1].Description)
	}
	if n := len([]rune(got[2].Description)); n != maxMenuDescription {
		t.Fatalf("description runes = %d, want %d", n, maxMenuDescription)
	}
	if menuHash(got) == menuHash(got[:2]) {
		t.Fatalf("hash ignores entries")
	}
}
