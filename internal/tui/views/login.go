package views

import (
	"github.com/rivo/tview"
)

// Login is the credential form shown before a session exists.
type Login struct {
	*tview.Flex
	theme    *Theme
	form     *tview.Form
	status   *tview.TextView
	onSubmit func(email, password string)
}

// NewLogin creates the login form.
func NewLogin(theme *Theme) *Login {
	l := &Login{theme: theme}

	l.form = tview.NewForm().
		AddInputField("Email", "", 40, nil, nil).
		AddPasswordField("Password", "", 40, '*', nil).
		AddButton("Sign in", func() {
			if l.onSubmit != nil {
				l.onSubmit(l.email(), l.password())
			}
		})
	l.form.SetBorder(true)
	l.form.SetBorderColor(theme.BorderColor)
	l.form.SetBackgroundColor(theme.BgColor)
	l.form.SetFieldBackgroundColor(theme.BgColor)
	l.form.SetFieldTextColor(theme.FgColor)
	l.form.SetLabelColor(theme.LabelColor)
	l.form.SetButtonBackgroundColor(theme.BorderColor)
	l.form.SetTitle(" parley ")
	l.form.SetTitleColor(theme.TitleColor)

	l.status = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	l.status.SetBackgroundColor(theme.BgColor)

	// Center the form.
	inner := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(l.form, 11, 0, true).
		AddItem(l.status, 1, 0, false).
		AddItem(nil, 0, 1, false)
	l.Flex = tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(inner, 50, 0, true).
		AddItem(nil, 0, 1, false)

	return l
}

// SetOnSubmit sets the callback invoked with the entered credentials.
func (l *Login) SetOnSubmit(fn func(email, password string)) {
	l.onSubmit = fn
}

// ShowStatus displays a neutral progress line.
func (l *Login) ShowStatus(msg string) {
	l.status.SetText("[::d]" + tview.Escape(msg))
}

// ShowError displays a failure line under the form.
func (l *Login) ShowError(msg string) {
	l.status.SetText("[red]" + tview.Escape(msg))
}

func (l *Login) email() string {
	return l.form.GetFormItemByLabel("Email").(*tview.InputField).GetText()
}

func (l *Login) password() string {
	return l.form.GetFormItemByLabel("Password").(*tview.InputField).GetText()
}
