// Package tgui provides small Telegram UI helpers: inline keyboard builders
// and "ns:action:payload" callback data packing.
package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline is a small builder for inline keyboards (ReplyMarkup). It stores
// rows as tele.Row and applies them via ReplyMarkup.Inline().
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a new row of buttons.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Markup returns the underlying reply markup.
func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// ConfirmInline builds a 2-button yes/no keyboard.
func ConfirmInline(yes, no tele.Btn) *Inline {
	return NewInline().Row(yes, no)
}
