package tgui

import (
	"strings"
	"testing"
)

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"레이드", 3, "레이드"},
		{"저녁 레이드 모집", 4, "저녁 …"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncRunes(tt.in, tt.n); got != tt.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestCheckedData(t *testing.T) {
	t.Parallel()
	if d, err := CheckedData("recruit", "join", "abc.1"); err != nil || d != "recruit:join:abc.1" {
		t.Fatalf("CheckedData = %q, %v", d, err)
	}
	if _, err := CheckedData("recruit", "join", strings.Repeat("x", 60)); err != ErrCallbackDataTooLong {
		t.Fatalf("CheckedData long = %v, want ErrCallbackDataTooLong", err)
	}
}

func TestBuilderEscapes(t *testing.T) {
	t.Parallel()
	m := New().Title("🎮", "<raid>").Line("a & b").HTML(Mention("길동", 7)).Build()
	want := "🎮 <b>&lt;raid&gt;</b>\na &amp; b\n<a href=\"tg://user?id=7\">길동</a>"
	if m.Text != want {
		t.Fatalf("Text = %q, want %q", m.Text, want)
	}
	if m.Opt.ParseMode != "HTML" || m.Opt.ReplyMarkupAdapter != nil {
		t.Fatalf("Opt = %+v", m.Opt)
	}
}

func TestInlineGrid(t *testing.T) {
	t.Parallel()
	kb := NewInline().Grid(2, Btn("a", "1"), Btn("b", "2"), Btn("c", "3")).Row(Btn("x", "9"))
	if kb.Len() != 3 {
		t.Fatalf("rows = %d, want 3", kb.Len())
	}
	if got := len(kb.Markup().InlineKeyboard); got != 3 {
		t.Fatalf("markup rows = %d, want 3", got)
	}
}
