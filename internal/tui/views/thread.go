package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/mvilaca/parley/internal/convo"
	"github.com/rivo/tview"
)

// Thread displays the open conversation: the message log, the typing
// line, the staged-attachment line and the composer.
type Thread struct {
	*tview.Flex
	theme    *Theme
	messages *tview.TextView
	typing   *tview.TextView
	staged   *tview.TextView
	composer *tview.InputField

	peerName string
	onSend   func(text string)
	onInput  func()
}

// NewThread creates the thread view.
func NewThread(theme *Theme) *Thread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitleColor(theme.TitleColor)

	typing := tview.NewTextView().SetDynamicColors(true)
	typing.SetBackgroundColor(theme.BgColor)

	staged := tview.NewTextView().SetDynamicColors(true)
	staged.SetBackgroundColor(theme.BgColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.LabelColor)
	composer.SetTitle(" Compose (i to focus, /attach <path>) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, false).
		AddItem(typing, 1, 0, false).
		AddItem(staged, 1, 0, false).
		AddItem(composer, 3, 0, true)

	t := &Thread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		typing:   typing,
		staged:   staged,
		composer: composer,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && t.onSend != nil {
			t.onSend(composer.GetText())
		}
	})
	composer.SetChangedFunc(func(string) {
		if t.onInput != nil {
			t.onInput()
		}
	})

	return t
}

// SetOnSend sets the callback for a composer submit. The callback owns
// clearing the input: on a failed send the draft stays.
func (t *Thread) SetOnSend(fn func(text string)) { t.onSend = fn }

// SetOnInput sets the callback fired on every composer keystroke.
func (t *Thread) SetOnInput(fn func()) { t.onInput = fn }

// SetPeer names the thread after the conversation's other participant.
func (t *Thread) SetPeer(name string) {
	t.peerName = name
	t.messages.SetTitle(fmt.Sprintf(" %s ", name))
}

// ClearComposer empties the input after a successful send.
func (t *Thread) ClearComposer() { t.composer.SetText("") }

// Composer returns the input field for focus management.
func (t *Thread) Composer() *tview.InputField { return t.composer }

// Update re-renders the message log. resolve maps a sender id to a
// display name; selfID marks own messages.
func (t *Thread) Update(msgs []convo.Message, selfID string, resolve func(string) string, loading bool) {
	t.messages.Clear()

	if loading {
		_, _ = fmt.Fprint(t.messages, "\n  [::d]Loading messages...")
		return
	}
	if len(msgs) == 0 {
		_, _ = fmt.Fprint(t.messages, "\n  [::d]No messages yet. Say hi!")
		return
	}

	for _, m := range msgs {
		sender := resolve(m.SenderID)
		if m.SenderID == selfID {
			sender = "You"
		}
		marker := ""
		if m.Pending {
			marker = " [gray]…[-]"
		}
		_, _ = fmt.Fprintf(t.messages, "[::b]%s[-:-:-]%s\n%s\n",
			tview.Escape(cleanForTerminal(sender)), marker,
			tview.Escape(cleanForTerminal(m.Text)))
		for _, a := range m.Attachments {
			if a.URL != "" {
				_, _ = fmt.Fprintf(t.messages, "  [%s] %s — %s\n", a.Kind, tview.Escape(a.Name), a.URL)
			} else {
				_, _ = fmt.Fprintf(t.messages, "  [%s] %s\n", a.Kind, tview.Escape(a.Name))
			}
		}
		_, _ = fmt.Fprintln(t.messages)
	}

	t.messages.ScrollToEnd()
}

// SetTypist shows or clears the one-typist line.
func (t *Thread) SetTypist(name string) {
	if name == "" {
		t.typing.SetText("")
		return
	}
	t.typing.SetText(fmt.Sprintf(" [navajowhite]%s is typing...[-]", tview.Escape(cleanForTerminal(name))))
}

// SetStaged shows the filenames staged for the next send.
func (t *Thread) SetStaged(names []string) {
	if len(names) == 0 {
		t.staged.SetText("")
		return
	}
	line := " attachments:"
	for _, n := range names {
		line += " [" + tview.Escape(n) + "]"
	}
	t.staged.SetText(line)
}
