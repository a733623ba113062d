package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Makepad-fr/tada-sync/internal/model"
	"github.com/Makepad-fr/tada-sync/internal/todo"
)

const noticeTTL = 4 * time.Second

// listItem adapts model.Item to bubbles/list.Item
type listItem struct {
	ID   string
	Text string
}

func (i listItem) Title() string       { return i.Text }
func (i listItem) Description() string { return "" }
func (i listItem) FilterValue() string { return i.Text }

// Custom delegate to control how items render (single line)
type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, _ := item.(listItem)
	prefix := "  "
	if index == m.Index() {
		prefix = selectedStyle.Render("> ")
	}
	fmt.Fprintln(w, prefix+mutedStyle.Render(bullet)+" "+it.Text)
}

type sessionMsg struct {
	screen int64
	user   *model.User
}

type feedMsg struct {
	screen int64
	gen    int
	update todo.Update
}

// refreshMsg carries a one-shot re-read of the list.
type refreshMsg struct {
	screen int64
	gen    int
	items  []model.Item
	err    error
}

type profileMsg struct {
	screen int64
	userID string
	name   string
	err    error
}

type mutationMsg struct {
	screen  int64
	op      string
	err     error
	refresh bool
}

type loggedOutMsg struct{ screen int64 }

type noticeExpiredMsg struct {
	screen int64
	seq    int
}

type homeScreen struct {
	id   int64
	deps Deps

	sessions    chan *model.User
	unsubscribe func()
	user        *model.User
	userName    string

	feed    *todo.Feed
	feedGen int
	todos   []model.Item
	list    list.Model

	// Inline add / edit
	adding    bool
	editingID string
	ti        textinput.Model // shared text input model (used for add & edit)
	inputErr  string

	logoutAlertVisible bool
	leaving            bool
	closed             bool

	notice    string
	noticeSeq int

	width, height int
}

func newHomeScreen(id int64, deps Deps, width, height int) *homeScreen {
	l := list.New(nil, itemDelegate{}, 0, 0)
	l.Title = titleStyle.Render("ToDo List")
	l.SetShowHelp(true)
	l.SetShowPagination(true)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle
	l.Styles.HelpStyle = helpStyle
	l.Styles.PaginationStyle = helpStyle
	l.FilterInput.Prompt = "/ "
	l.SetStatusBarItemName("item", "items")

	addBind := key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add"))
	editBind := key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit"))
	delBind := key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete"))
	logoutBind := key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "logout"))
	l.AdditionalShortHelpKeys = func() []key.Binding { return []key.Binding{addBind, editBind, delBind, logoutBind} }
	l.AdditionalFullHelpKeys = func() []key.Binding { return []key.Binding{addBind, editBind, delBind, logoutBind} }

	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 200

	s := &homeScreen{id: id, deps: deps, list: l, ti: ti}
	s.resize(width, height)
	return s
}

// Init subscribes to session changes. The provider delivers the current
// session right away, so the first sessionMsg arrives immediately.
func (s *homeScreen) Init() tea.Cmd {
	s.sessions = make(chan *model.User, 1)
	s.unsubscribe = s.deps.Auth.OnSessionChange(func(u *model.User) {
		offerLatest(s.sessions, u)
	})
	return waitSession(s.id, s.sessions)
}

// offerLatest replaces any undelivered session with u.
func offerLatest(ch chan *model.User, u *model.User) {
	for {
		select {
		case ch <- u:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func waitSession(id int64, ch <-chan *model.User) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return nil
		}
		return sessionMsg{screen: id, user: u}
	}
}

func waitFeed(id int64, gen int, f *todo.Feed) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-f.C()
		if !ok {
			return nil
		}
		return feedMsg{screen: id, gen: gen, update: u}
	}
}

// Close cancels the list subscription and the session listener.
func (s *homeScreen) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.stopFeed()
	if s.unsubscribe != nil {
		s.unsubscribe()
		// No delivery can race the close once unsubscribe has returned.
		close(s.sessions)
	}
}

func (s *homeScreen) stopFeed() {
	if s.feed != nil {
		s.feed.Close()
		s.feed = nil
	}
	s.feedGen++
}

func (s *homeScreen) resize(w, h int) {
	s.width, s.height = w, h
	listHeight := h - 6
	if s.adding || s.editingID != "" {
		listHeight = h - 9
	}
	if listHeight < 3 {
		listHeight = 3
	}
	s.list.SetSize(w-4, listHeight)
}

func (s *homeScreen) leave() tea.Cmd {
	if s.leaving {
		return nil
	}
	s.leaving = true
	return Navigate(RouteLogin)
}

// onSession reacts to a session transition: nil leaves the screen, a new
// user restarts the list subscription.
func (s *homeScreen) onSession(u *model.User) tea.Cmd {
	if u == nil {
		s.stopFeed()
		s.user = nil
		return s.leave()
	}
	if s.user != nil && s.user.ID == u.ID {
		return nil
	}
	s.stopFeed()
	s.user = u
	s.userName = ""
	s.setTodos(nil)

	// The feed lives until stopFeed.
	feed, err := s.deps.Todos.Watch(context.Background(), u.ID)
	if err != nil {
		return s.fail("subscribe", err)
	}
	s.feed = feed
	return tea.Batch(waitFeed(s.id, s.feedGen, feed), s.fetchProfile(u.ID))
}

func (s *homeScreen) fetchProfile(userID string) tea.Cmd {
	id, todos := s.id, s.deps.Todos
	return func() tea.Msg {
		ctx, cancel := timeoutCtx()
		defer cancel()
		p, err := todos.Profile(ctx, userID)
		return profileMsg{screen: id, userID: userID, name: p.Name, err: err}
	}
}

func (s *homeScreen) setTodos(items []model.Item) {
	s.todos = items
	li := make([]list.Item, 0, len(items))
	for _, it := range items {
		li = append(li, listItem{ID: it.ID, Text: it.Text})
	}
	s.list.SetItems(li)
}

func (s *homeScreen) selected() (listItem, bool) {
	it, ok := s.list.SelectedItem().(listItem)
	return it, ok
}

// fail logs err and shows it as a transient notice.
func (s *homeScreen) fail(op string, err error) tea.Cmd {
	s.deps.Logger.Error(op+" failed", "err", err)
	s.noticeSeq++
	s.notice = fmt.Sprintf("%s failed: %v", op, err)
	id, seq := s.id, s.noticeSeq
	return tea.Tick(noticeTTL, func(time.Time) tea.Msg { return noticeExpiredMsg{screen: id, seq: seq} })
}

func (s *homeScreen) mutate(op string, refresh bool, fn func() error) tea.Cmd {
	id := s.id
	return func() tea.Msg {
		return mutationMsg{screen: id, op: op, err: fn(), refresh: refresh}
	}
}

// addToDo writes a new item. Whitespace-only input is a no-op.
func (s *homeScreen) addToDo(text string) tea.Cmd {
	text = strings.TrimSpace(text)
	if text == "" || s.user == nil {
		return nil
	}
	todos, userID := s.deps.Todos, s.user.ID
	return s.mutate("add", false, func() error {
		ctx, cancel := timeoutCtx()
		defer cancel()
		_, err := todos.Add(ctx, userID, text)
		return err
	})
}

func (s *homeScreen) deleteToDo(id string) tea.Cmd {
	todos := s.deps.Todos
	return s.mutate("delete", false, func() error {
		ctx, cancel := timeoutCtx()
		defer cancel()
		return todos.Delete(ctx, id)
	})
}

// editToDo opens the inline editor seeded with the current text.
func (s *homeScreen) editToDo(id, current string) {
	s.editingID = id
	s.inputErr = ""
	s.ti.SetValue(current)
	s.ti.CursorEnd()
	s.ti.Placeholder = "Edit item..."
	s.ti.Focus()
	s.resize(s.width, s.height)
}

// saveEditedToDo writes the edited text, then re-reads the list once.
func (s *homeScreen) saveEditedToDo(id, text string) tea.Cmd {
	todos := s.deps.Todos
	return s.mutate("edit", true, func() error {
		ctx, cancel := timeoutCtx()
		defer cancel()
		return todos.UpdateText(ctx, id, text)
	})
}

func (s *homeScreen) refresh() tea.Cmd {
	if s.user == nil {
		return nil
	}
	id, gen, todos, userID := s.id, s.feedGen, s.deps.Todos, s.user.ID
	return func() tea.Msg {
		ctx, cancel := timeoutCtx()
		defer cancel()
		items, err := todos.List(ctx, userID)
		return refreshMsg{screen: id, gen: gen, items: items, err: err}
	}
}

func (s *homeScreen) logout() tea.Cmd {
	id, deps := s.id, s.deps
	return func() tea.Msg {
		ctx, cancel := timeoutCtx()
		defer cancel()
		if err := deps.Auth.SignOut(ctx); err != nil {
			deps.Logger.Error("sign out failed", "err", err)
		}
		return loggedOutMsg{screen: id}
	}
}

func (s *homeScreen) closeInput() {
	s.adding = false
	s.editingID = ""
	s.inputErr = ""
	s.ti.SetValue("")
	s.ti.Blur()
	s.resize(s.width, s.height)
}

func (s *homeScreen) Update(msg tea.Msg) (screen, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.resize(msg.Width, msg.Height)
		return s, nil

	case sessionMsg:
		if msg.screen != s.id {
			return s, nil
		}
		cmd := s.onSession(msg.user)
		if s.leaving {
			return s, cmd
		}
		return s, tea.Batch(cmd, waitSession(s.id, s.sessions))

	case feedMsg:
		if msg.screen != s.id || msg.gen != s.feedGen {
			return s, nil
		}
		next := waitFeed(s.id, s.feedGen, s.feed)
		if msg.update.Err != nil {
			return s, tea.Batch(next, s.fail("sync", msg.update.Err))
		}
		s.setTodos(msg.update.Items)
		return s, next

	case refreshMsg:
		if msg.screen != s.id || msg.gen != s.feedGen {
			return s, nil
		}
		if msg.err != nil {
			return s, s.fail("refresh", msg.err)
		}
		s.setTodos(msg.items)
		return s, nil

	case profileMsg:
		if msg.screen != s.id || s.user == nil || s.user.ID != msg.userID {
			return s, nil
		}
		if msg.err != nil {
			s.deps.Logger.Warn("profile unavailable", "user", msg.userID, "err", msg.err)
			return s, nil
		}
		s.userName = msg.name
		return s, nil

	case mutationMsg:
		if msg.screen != s.id {
			return s, nil
		}
		if msg.err != nil {
			return s, s.fail(msg.op, msg.err)
		}
		if msg.refresh {
			return s, s.refresh()
		}
		return s, nil

	case loggedOutMsg:
		if msg.screen != s.id {
			return s, nil
		}
		return s, s.leave()

	case noticeExpiredMsg:
		if msg.screen == s.id && msg.seq == s.noticeSeq {
			s.notice = ""
		}
		return s, nil
	}

	km, isKey := msg.(tea.KeyMsg)

	if s.logoutAlertVisible {
		if isKey {
			switch km.String() {
			case "y", "enter":
				s.logoutAlertVisible = false
				return s, s.logout()
			case "n", "esc":
				s.logoutAlertVisible = false
			}
		}
		return s, nil
	}

	// add / edit mode
	if s.adding || s.editingID != "" {
		if isKey {
			switch km.String() {
			case "enter":
				text := strings.TrimSpace(s.ti.Value())
				if s.adding {
					s.closeInput()
					return s, s.addToDo(text)
				}
				if text == "" {
					s.inputErr = todo.ErrEmptyText.Error()
					return s, nil
				}
				id := s.editingID
				s.closeInput()
				return s, s.saveEditedToDo(id, text)
			case "esc":
				s.closeInput()
				return s, nil
			}
		}
		var cmd tea.Cmd
		s.ti, cmd = s.ti.Update(msg)
		return s, cmd
	}

	if isKey && s.list.FilterState() != list.Filtering {
		switch km.String() {
		case "q":
			return s, tea.Quit
		case "a":
			s.adding = true
			s.inputErr = ""
			s.ti.SetValue("")
			s.ti.Placeholder = "New item..."
			s.ti.Focus()
			s.resize(s.width, s.height)
			return s, nil
		case "e":
			if it, ok := s.selected(); ok {
				s.editToDo(it.ID, it.Text)
			}
			return s, nil
		case "d":
			if it, ok := s.selected(); ok {
				return s, s.deleteToDo(it.ID)
			}
			return s, nil
		case "x":
			s.logoutAlertVisible = true
			return s, nil
		}
	}

	var cmd tea.Cmd
	s.list, cmd = s.list.Update(msg)
	return s, cmd
}

func (s *homeScreen) View() string {
	header := titleStyle.Render("ToDo List")
	if s.userName != "" {
		header += "  " + accentStyle.Render(s.userName)
	}
	header += "  " + successStyle.Render(fmt.Sprintf("%d", len(s.todos))) + mutedStyle.Render(" items")

	content := header + "\n" + s.list.View()
	if s.adding || s.editingID != "" {
		title := "Add new item"
		if s.editingID != "" {
			title = "Edit item"
		}
		if s.inputErr != "" {
			title += "  " + errorStyle.Render(s.inputErr)
		}
		content += "\n" + inputBar(title, s.ti.View())
	}
	if s.notice != "" {
		content += "\n" + errorStyle.Render(s.notice)
	}
	out := panelString(content)
	if s.logoutAlertVisible {
		name := s.userName
		if name == "" && s.user != nil {
			name = s.user.Email
		}
		out += "\n" + alertBox("Logout", fmt.Sprintf("Are you sure you want to logout, %s?", name), "y: yes • n: no")
	}
	return out
}
