package views

import (
	"fmt"

	"github.com/rivo/tview"
)

// StatusBar displays the logged-in user, connection state and a
// transient flash message.
type StatusBar struct {
	*tview.TextView
	user   string
	status string
	flash  string
}

// NewStatusBar creates the status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)
	return &StatusBar{TextView: tv}
}

// SetUser updates the user display.
func (sb *StatusBar) SetUser(name string) {
	sb.user = name
	sb.render()
}

// SetStatus updates the connection state display.
func (sb *StatusBar) SetStatus(status string) {
	sb.status = status
	sb.render()
}

// SetFlash sets or clears the transient message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s", tview.Escape(sb.user), sb.status)
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", tview.Escape(sb.flash))
	}
	_, _ = fmt.Fprint(sb, line)
}
