package tgui

import tele "gopkg.in/telebot.v4"

// Inline builds an inline keyboard row by row.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

func (i *Inline) Row(btn ...tele.Btn) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Grid appends buttons in rows of cols.
func (i *Inline) Grid(cols int, btn ...tele.Btn) *Inline {
	cols = max(cols, 1)
	for len(btn) > 0 {
		n := min(cols, len(btn))
		i.Row(btn[:n]...)
		btn = btn[n:]
	}
	return i
}

func (i *Inline) Len() int { return len(i.rows) }

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data; build it with Data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}
