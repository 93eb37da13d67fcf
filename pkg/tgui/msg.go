package tgui

import (
	"context"
	"strings"

	kit "partybot/internal/transport"

	tele "gopkg.in/telebot.v4"
)

// Message is rendered text plus the options it must be sent with.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

func (m Message) options() *kit.SendOptions {
	if m.Opt == nil {
		return &kit.SendOptions{}
	}
	o := *m.Opt
	return &o
}

func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	return ad.SendText(ctx, to, m.Text, m.options())
}

// Reply sends m as a reply to messageID.
func (m Message) Reply(ctx context.Context, ad kit.Adapter, to kit.ChatTarget, messageID int) (kit.MessageRef, error) {
	o := m.options()
	o.ReplyToMessageID = messageID
	return ad.SendText(ctx, to, m.Text, o)
}

// Edit replaces the message at ref. A Message without a keyboard removes
// the existing one.
func (m Message) Edit(ctx context.Context, ad kit.Adapter, ref kit.MessageRef) error {
	return ad.EditText(ctx, ref, m.Text, m.options())
}

// Builder accumulates HTML lines. ParseMode is HTML and link previews are
// off.
type Builder struct {
	rm    *tele.ReplyMarkup
	lines []string
}

func New() *Builder { return &Builder{} }

// Inline attaches an inline keyboard; nil clears it.
func (b *Builder) Inline(kb *Inline) *Builder {
	b.rm = nil
	if kb != nil {
		b.rm = kb.Markup()
	}
	return b
}

// Title adds "emoji <b>title</b>".
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	line := B(t).String()
	if e := strings.TrimSpace(emoji); e != "" {
		line = Esc(e).String() + " " + line
	}
	b.lines = append(b.lines, line)
	return b
}

// Line adds s escaped.
func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// HTML adds an already-safe line.
func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

// KV adds "• <b>key</b>: value".
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	b.lines = append(b.lines, "• "+B(key).String()+": "+Esc(strings.TrimSpace(value)).String())
	return b
}

func (b *Builder) Build() Message {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if b.rm != nil {
		opt.ReplyMarkupAdapter = b.rm
	}
	return Message{Text: strings.Trim(strings.Join(b.lines, "\n"), "\n"), Opt: opt}
}
