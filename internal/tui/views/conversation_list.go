package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/mvilaca/parley/internal/convo"
	"github.com/rivo/tview"
)

// ConversationList is the paginated thread listing.
type ConversationList struct {
	*tview.Table
	theme  *Theme
	selfID string
	convs  []convo.Conversation
	page   int
	pages  int
}

// NewConversationList creates the conversation table.
func NewConversationList(theme *Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Conversations ")
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{Table: table, theme: theme, page: 1, pages: 1}
}

// SetSelf sets the logged-in user id used to pick the peer name.
func (cl *ConversationList) SetSelf(id string) {
	cl.selfID = id
}

// Update re-renders the list with the given page of conversations.
func (cl *ConversationList) Update(convs []convo.Conversation, page, pages int) {
	cl.convs = convs
	cl.page = page
	cl.pages = pages
	cl.render()
}

// Page returns the page currently displayed.
func (cl *ConversationList) Page() int { return cl.page }

// Pages returns the total number of pages.
func (cl *ConversationList) Pages() int { return cl.pages }

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" WITH", 1},
		{" LAST MESSAGE", 2},
		{" UNREAD", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	for i, c := range cl.convs {
		name := c.Peer(cl.selfID).Name
		if name == "" {
			name = c.ID
		}

		preview := ""
		if c.LastMessage != nil {
			preview = c.LastMessage.Text
			if preview == "" && len(c.LastMessage.Attachments) > 0 {
				preview = "[" + string(c.LastMessage.Attachments[0].Kind) + "]"
			}
		}

		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf("%d", c.UnreadCount)
			name = fmt.Sprintf("(%d) %s", c.UnreadCount, name)
		}

		row := i + 1
		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(cleanForTerminal(name))).SetExpansion(1).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(cleanForTerminal(preview))).SetExpansion(2).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 2, tview.NewTableCell(unread).SetExpansion(0).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
	}

	if cl.pages > 1 {
		cl.SetTitle(fmt.Sprintf(" Conversations (page %d/%d, n/p to page) ", cl.page, cl.pages))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.convs)))
	}
}

// Selected returns the conversation under the cursor.
func (cl *ConversationList) Selected() (convo.Conversation, bool) {
	row, _ := cl.GetSelection()
	idx := row - 1 // header
	if idx < 0 || idx >= len(cl.convs) {
		return convo.Conversation{}, false
	}
	return cl.convs[idx], true
}
