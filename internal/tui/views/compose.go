package views

import (
	"github.com/rivo/tview"
)

// Compose is the new-conversation form: a recipient and a first
// message, for starting a thread that does not exist yet.
type Compose struct {
	*tview.Flex
	theme    *Theme
	form     *tview.Form
	status   *tview.TextView
	onSubmit func(recipient, text string)
	onCancel func()
}

// NewCompose creates the form.
func NewCompose(theme *Theme) *Compose {
	c := &Compose{theme: theme}

	c.form = tview.NewForm().
		AddInputField("To (user id)", "", 40, nil, nil).
		AddInputField("Message", "", 40, nil, nil).
		AddButton("Send", func() {
			if c.onSubmit != nil {
				c.onSubmit(c.recipient(), c.message())
			}
		}).
		AddButton("Cancel", func() {
			if c.onCancel != nil {
				c.onCancel()
			}
		})
	c.form.SetBorder(true)
	c.form.SetBorderColor(theme.BorderColor)
	c.form.SetBackgroundColor(theme.BgColor)
	c.form.SetFieldBackgroundColor(theme.BgColor)
	c.form.SetFieldTextColor(theme.FgColor)
	c.form.SetLabelColor(theme.LabelColor)
	c.form.SetButtonBackgroundColor(theme.BorderColor)
	c.form.SetTitle(" New conversation ")
	c.form.SetTitleColor(theme.TitleColor)

	c.status = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	c.status.SetBackgroundColor(theme.BgColor)

	inner := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(c.form, 11, 0, true).
		AddItem(c.status, 1, 0, false).
		AddItem(nil, 0, 1, false)
	c.Flex = tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(inner, 50, 0, true).
		AddItem(nil, 0, 1, false)

	return c
}

// SetOnSubmit sets the callback invoked with the recipient and message.
func (c *Compose) SetOnSubmit(fn func(recipient, text string)) {
	c.onSubmit = fn
}

// SetOnCancel sets the callback for the Cancel button.
func (c *Compose) SetOnCancel(fn func()) {
	c.onCancel = fn
}

// Reset clears the fields and the status line.
func (c *Compose) Reset() {
	c.recipientField().SetText("")
	c.messageField().SetText("")
	c.status.SetText("")
	c.form.SetFocus(0)
}

// ShowStatus displays a neutral progress line.
func (c *Compose) ShowStatus(msg string) {
	c.status.SetText("[::d]" + tview.Escape(msg))
}

// ShowError displays a failure line under the form.
func (c *Compose) ShowError(msg string) {
	c.status.SetText("[red]" + tview.Escape(msg))
}

func (c *Compose) recipient() string {
	return c.recipientField().GetText()
}

func (c *Compose) message() string {
	return c.messageField().GetText()
}

func (c *Compose) recipientField() *tview.InputField {
	return c.form.GetFormItemByLabel("To (user id)").(*tview.InputField)
}

func (c *Compose) messageField() *tview.InputField {
	return c.form.GetFormItemByLabel("Message").(*tview.InputField)
}
