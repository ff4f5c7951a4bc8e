package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/mvilaca/parley/internal/attach"
	"github.com/mvilaca/parley/internal/bus"
	"github.com/mvilaca/parley/internal/config"
	"github.com/mvilaca/parley/internal/convo"
	"github.com/mvilaca/parley/internal/rest"
	"github.com/mvilaca/parley/internal/session"
	"github.com/mvilaca/parley/internal/transport"
	"github.com/mvilaca/parley/internal/tui/views"
	"github.com/mvilaca/parley/internal/typing"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

// Deps bundles everything the TUI shell needs.
type Deps struct {
	Config    *config.Config
	Logger    *zap.Logger
	Bus       *bus.Bus
	Session   *session.Session
	Transport *transport.Session
	REST      *rest.Client
	Store     *convo.Store
	Typing    *typing.Tracker
	Preparer  *attach.Preparer
}

// App is the TUI application shell: the login form, the conversation
// list and the open thread, glued to the engine through the bus.
type App struct {
	Deps

	app     *tview.Application
	pages   *tview.Pages
	theme   *views.Theme
	login   *views.Login
	list    *views.ConversationList
	compose *views.Compose
	thread  *views.Thread
	status  *views.StatusBar
	flash   Flash

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	handle *convo.Handle
}

// NewApp creates the TUI application.
func NewApp(deps Deps) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := views.DefaultTheme()

	a := &App{
		Deps:    deps,
		app:     tview.NewApplication(),
		pages:   tview.NewPages(),
		theme:   theme,
		login:   views.NewLogin(theme),
		list:    views.NewConversationList(theme),
		compose: views.NewCompose(theme),
		thread:  views.NewThread(theme),
		status:  views.NewStatusBar(),
		ctx:     ctx,
		cancel:  cancel,
	}

	a.setupCallbacks()
	a.setupLayout()
	a.status.SetStatus(string(session.Closed))

	return a
}

func (a *App) setupCallbacks() {
	a.login.SetOnSubmit(a.doLogin)

	a.list.SetSelectedFunc(func(row, col int) {
		if c, ok := a.list.Selected(); ok {
			a.openThread(c)
		}
	})

	a.compose.SetOnSubmit(a.doStartConversation)
	a.compose.SetOnCancel(a.closeCompose)

	a.thread.SetOnSend(a.doSend)
	a.thread.SetOnInput(func() {
		a.mu.Lock()
		h := a.handle
		a.mu.Unlock()
		if h != nil {
			a.Typing.Notify(h.ID(), a.Session.User().ID)
		}
	})
}

func (a *App) setupLayout() {
	a.pages.AddPage("login", a.login, true, true)
	a.pages.AddPage("list", a.list, true, false)
	a.pages.AddPage("compose", a.compose, true, false)
	a.pages.AddPage("thread", a.thread, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.status, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape && currentPage == "thread" {
			a.closeThread()
			return nil
		}
		if event.Key() == tcell.KeyEscape && currentPage == "compose" {
			a.closeCompose()
			return nil
		}

		// Text inputs own their keys.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		if currentPage == "thread" && event.Key() == tcell.KeyRune && event.Rune() == 'i' {
			a.app.SetFocus(a.thread.Composer())
			return nil
		}

		if currentPage == "list" && event.Key() == tcell.KeyRune {
			switch event.Rune() {
			case 'q':
				a.app.Stop()
				return nil
			case 'c':
				a.compose.Reset()
				a.pages.SwitchToPage("compose")
				a.app.SetFocus(a.compose)
				return nil
			case 'r':
				go a.loadConversations(a.list.Page())
				return nil
			case 'n':
				if p := a.list.Page(); p < a.list.Pages() {
					go a.loadConversations(p + 1)
				}
				return nil
			case 'p':
				if p := a.list.Page(); p > 1 {
					go a.loadConversations(p - 1)
				}
				return nil
			}
		}

		return event
	})
}

func (a *App) doLogin(email, password string) {
	a.login.ShowStatus("Signing in...")
	go func() {
		res, err := a.REST.Login(a.ctx, email, password)
		if err != nil {
			a.queue(func() { a.login.ShowError(loginErrorText(err)) })
			return
		}
		a.Session.Begin(res.User, res.Token)

		if err := a.Transport.Connect(a.ctx, res.Token); err != nil {
			a.Session.End()
			a.queue(func() { a.login.ShowError("Connection failed: " + err.Error()) })
			return
		}

		a.list.SetSelf(res.User.ID)
		a.loadConversations(1)
		a.queue(func() {
			a.status.SetUser(res.User.Name)
			a.pages.SwitchToPage("list")
			a.app.SetFocus(a.list)
		})
	}()
}

func loginErrorText(err error) string {
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) && apiErr.Status == 401 {
		return "Invalid email or password"
	}
	return "Login failed: " + err.Error()
}

// loadConversations fetches one page of the listing and installs it.
// The list view carries the paging position, so it is updated directly;
// later renders read it back through Page and Pages.
func (a *App) loadConversations(page int) {
	res, err := a.REST.Conversations(a.ctx, a.Session.Token(), page, a.Config.PageSize)
	if err != nil {
		a.Logger.Warn("conversation listing failed", zap.Error(err))
		a.flash.Set("Could not load conversations", 5*time.Second)
		a.queue(a.renderStatus)
		return
	}

	a.Store.SetConversations(res.Conversations)
	a.queue(func() { a.list.Update(res.Conversations, page, res.TotalPages) })
}

func (a *App) openThread(c convo.Conversation) {
	handle := a.Store.Enter(a.ctx, c)

	a.mu.Lock()
	a.handle = handle
	a.mu.Unlock()

	peer := c.Peer(a.Session.User().ID)
	name := peer.Name
	if name == "" {
		name = c.ID
	}
	a.thread.SetPeer(name)
	a.renderThread()
	a.pages.SwitchToPage("thread")
	a.app.SetFocus(a.thread.Composer())
}

func (a *App) closeThread() {
	a.mu.Lock()
	h := a.handle
	a.handle = nil
	a.mu.Unlock()
	if h != nil {
		h.Leave()
	}
	a.thread.SetTypist("")
	a.pages.SwitchToPage("list")
	a.app.SetFocus(a.list)
}

func (a *App) closeCompose() {
	a.pages.SwitchToPage("list")
	a.app.SetFocus(a.list)
}

// doStartConversation sends the first message to a recipient with no
// existing thread, then refreshes the listing and opens the new
// conversation.
func (a *App) doStartConversation(recipient, text string) {
	a.compose.ShowStatus("Sending...")
	go func() {
		msg, err := a.Store.StartConversation(a.ctx, recipient, text)
		if err != nil {
			a.queue(func() { a.compose.ShowError(startErrorText(err)) })
			return
		}

		a.loadConversations(1)
		a.queue(func() {
			if c, ok := a.Store.Conversation(msg.ConversationID); ok {
				a.openThread(c)
				return
			}
			a.closeCompose()
		})
	}()
}

func startErrorText(err error) string {
	switch {
	case errors.Is(err, convo.ErrNoRecipient):
		return "Enter a recipient"
	case errors.Is(err, convo.ErrEmptyMessage):
		return "Enter a message"
	case transport.Indeterminate(err):
		return "Delivery unconfirmed, try again"
	default:
		return "Could not start conversation: " + err.Error()
	}
}

// doSend handles a composer submit: attachment commands run locally,
// anything else goes out as a message.
func (a *App) doSend(text string) {
	if path, ok := strings.CutPrefix(text, "/attach "); ok {
		a.stageAttachment(strings.TrimSpace(path))
		return
	}
	if strings.TrimSpace(text) == "/clear" {
		a.Preparer.Clear()
		a.thread.SetStaged(nil)
		a.thread.ClearComposer()
		return
	}

	go func() {
		files, err := a.Preparer.EncodeAll(a.ctx)
		if err != nil {
			// Staged set is intact; fix the file and resend.
			a.flash.Set("Attachment failed: "+err.Error(), 5*time.Second)
			a.queue(a.renderStatus)
			return
		}

		_, err = a.Store.Send(a.ctx, text, files)
		switch {
		case errors.Is(err, convo.ErrEmptyMessage):
			return
		case transport.Indeterminate(err):
			// Unknown outcome: keep the draft so the user can retry.
			a.flash.Set("Delivery unconfirmed, try again", 5*time.Second)
		case err != nil:
			a.flash.Set("Send failed: "+err.Error(), 5*time.Second)
		default:
			a.Preparer.Clear()
			a.queue(func() {
				a.thread.ClearComposer()
				a.thread.SetStaged(nil)
			})
		}
		a.queue(a.renderStatus)
	}()
}

func (a *App) stageAttachment(path string) {
	if path == "" {
		return
	}
	if err := a.Preparer.Stage(path); err != nil {
		if errors.Is(err, attach.ErrTooLarge) {
			a.flash.Set("File too large (20 MiB max)", 5*time.Second)
		} else {
			a.flash.Set("Attach failed: "+err.Error(), 5*time.Second)
		}
		a.renderStatus()
		return
	}
	a.thread.SetStaged(a.Preparer.Staged())
	a.thread.ClearComposer()
}

// Run starts the event watcher and the terminal loop, blocking until
// the user quits.
func (a *App) Run() error {
	go a.watch()
	return a.app.Run()
}

// Stop tears the TUI down.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// watch funnels engine events into UI refreshes.
func (a *App) watch() {
	convoCh, unsubConvo := a.Bus.Subscribe("convo.", 256)
	typingCh, unsubTyping := a.Bus.Subscribe("typing.changed", 64)
	statusCh, unsubStatus := a.Bus.Subscribe("session.status_changed", 16)
	defer unsubConvo()
	defer unsubTyping()
	defer unsubStatus()

	ticker := time.NewTicker(time.Second) // flash expiry
	defer ticker.Stop()

	for {
		select {
		case evt := <-convoCh:
			switch evt.Kind {
			case "convo.updated":
				a.queue(a.renderThread)
			case "convo.list_updated":
				a.queue(a.renderList)
			}
		case <-typingCh:
			a.queue(a.renderTypist)
		case evt := <-statusCh:
			a.queue(func() { a.renderConnStatus(evt) })
		case <-ticker.C:
			a.queue(a.renderStatus)
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) queue(fn func()) {
	a.app.QueueUpdateDraw(fn)
}

func (a *App) renderList() {
	a.list.Update(a.Store.Conversations(), a.list.Page(), a.list.Pages())
}

func (a *App) renderThread() {
	a.mu.Lock()
	h := a.handle
	a.mu.Unlock()
	if h == nil {
		return
	}
	loading := a.Store.ActiveState() == convo.StateLoading
	selfID := a.Session.User().ID
	a.thread.Update(a.Store.Messages(), selfID, func(senderID string) string {
		return a.Store.ParticipantName(h.ID(), senderID)
	}, loading)
}

func (a *App) renderTypist() {
	a.mu.Lock()
	h := a.handle
	a.mu.Unlock()
	if h == nil {
		return
	}
	if senderID, ok := a.Typing.Typist(h.ID()); ok {
		a.thread.SetTypist(a.Store.ParticipantName(h.ID(), senderID))
	} else {
		a.thread.SetTypist("")
	}
}

func (a *App) renderConnStatus(evt bus.Event) {
	change, ok := evt.Payload.(session.StatusChange)
	if !ok {
		return
	}
	a.status.SetStatus(string(change.To))
	if change.To == session.Connecting {
		a.flash.Set("Reconnecting...", 3*time.Second)
	}
	a.renderStatus()
}

func (a *App) renderStatus() {
	a.status.SetFlash(a.flash.Get())
}
