package tui

import (
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Makepad-fr/tada-sync/internal/todo"
)

const (
	alertHeader   = "tada"
	defaultNotice = "User does not exist"
)

type loginResultMsg struct {
	screen int64
	name   string
	found  bool
	err    error
}

type redirectMsg struct{ screen int64 }

type loginScreen struct {
	id   int64
	deps Deps

	inputs []textinput.Model // email, password
	focus  int

	busy         bool
	errorMessage string

	// notice
	alertVisible bool
	welcome      string
	redirecting  bool
}

func newLoginScreen(id int64, deps Deps, email string) *loginScreen {
	emailIn := textinput.New()
	emailIn.Prompt = "Email    > "
	emailIn.Placeholder = "you@example.com"
	emailIn.CharLimit = 200
	emailIn.SetValue(email)

	pwIn := textinput.New()
	pwIn.Prompt = "Password > "
	pwIn.EchoMode = textinput.EchoPassword
	pwIn.EchoCharacter = '•'
	pwIn.CharLimit = 200

	s := &loginScreen{id: id, deps: deps, inputs: []textinput.Model{emailIn, pwIn}}
	if email != "" {
		s.focus = 1
	}
	s.inputs[s.focus].Focus()
	return s
}

func (s *loginScreen) Init() tea.Cmd { return textinput.Blink }

func (s *loginScreen) Close() {}

// notice is the text of the alert shown after a sign-in.
func (s *loginScreen) notice() string {
	if s.welcome != "" {
		return s.welcome
	}
	return defaultNotice
}

func (s *loginScreen) setFocus(i int) {
	s.inputs[s.focus].Blur()
	s.focus = (i + len(s.inputs)) % len(s.inputs)
	s.inputs[s.focus].Focus()
}

// login signs in and looks up the profile. The result decides between the
// welcome notice and the "does not exist" notice.
func (s *loginScreen) login(email, password string) tea.Cmd {
	id, deps := s.id, s.deps
	return func() tea.Msg {
		ctx, cancel := timeoutCtx()
		defer cancel()
		u, err := deps.Auth.SignIn(ctx, email, password)
		if err != nil {
			return loginResultMsg{screen: id, err: err}
		}
		p, err := deps.Todos.Profile(ctx, u.ID)
		if errors.Is(err, todo.ErrProfileNotFound) {
			return loginResultMsg{screen: id}
		}
		if err != nil {
			return loginResultMsg{screen: id, err: err}
		}
		return loginResultMsg{screen: id, name: p.Name, found: true}
	}
}

func (s *loginScreen) Update(msg tea.Msg) (screen, tea.Cmd) {
	switch msg := msg.(type) {
	case loginResultMsg:
		if msg.screen != s.id {
			return s, nil
		}
		s.busy = false
		if msg.err != nil {
			s.errorMessage = msg.err.Error()
			s.deps.Logger.Warn("sign in failed", "err", msg.err)
			return s, nil
		}
		s.errorMessage = ""
		s.alertVisible = true
		if !msg.found {
			s.welcome = ""
			return s, nil
		}
		s.welcome = "Welcome " + msg.name
		s.redirecting = true
		id := s.id
		return s, tea.Tick(s.deps.RedirectDelay, func(time.Time) tea.Msg { return redirectMsg{screen: id} })

	case redirectMsg:
		if msg.screen != s.id {
			return s, nil
		}
		return s, Navigate(RouteHome)

	case tea.KeyMsg:
		if s.alertVisible {
			switch msg.String() {
			case "enter", "esc":
				// The redirect, if any, still fires.
				s.alertVisible = false
			}
			return s, nil
		}
		switch msg.String() {
		case "ctrl+s":
			return s, Navigate(RouteSignup)
		case "tab", "down":
			s.setFocus(s.focus + 1)
			return s, nil
		case "shift+tab", "up":
			s.setFocus(s.focus - 1)
			return s, nil
		case "enter":
			if s.focus == 0 {
				s.setFocus(1)
				return s, nil
			}
			if s.busy {
				return s, nil
			}
			email := strings.TrimSpace(s.inputs[0].Value())
			if email == "" || s.inputs[1].Value() == "" {
				s.errorMessage = "Email and password are required"
				return s, nil
			}
			s.busy = true
			s.errorMessage = ""
			return s, s.login(email, s.inputs[1].Value())
		}
	}

	var cmd tea.Cmd
	s.inputs[s.focus], cmd = s.inputs[s.focus].Update(msg)
	return s, cmd
}

func (s *loginScreen) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Login") + "\n\n")
	for _, in := range s.inputs {
		b.WriteString(in.View() + "\n")
	}
	b.WriteString("\n")
	switch {
	case s.busy:
		b.WriteString(mutedStyle.Render("Signing in...") + "\n")
	case s.errorMessage != "":
		b.WriteString(errorStyle.Render(s.errorMessage) + "\n")
	}
	b.WriteString(helpStyle.Render("enter: login • tab: next field • ctrl+s: sign up • ctrl+c: quit"))
	out := panelString(b.String())
	if s.alertVisible {
		buttons := "[ OK ] enter"
		if s.redirecting {
			buttons = "opening your list..."
		}
		out += "\n" + alertBox(alertHeader, s.notice(), buttons)
	}
	return out
}
