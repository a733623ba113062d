package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Makepad-fr/tada-sync/internal/model"
)

type signupResultMsg struct {
	screen int64
	email  string
	err    error
}

// signupScreen creates an account and its profile, then hands the email back
// to the login screen.
type signupScreen struct {
	id   int64
	deps Deps

	inputs []textinput.Model // email, password, name
	focus  int

	busy         bool
	errorMessage string
}

func newSignupScreen(id int64, deps Deps) *signupScreen {
	prompts := []string{"Email    > ", "Password > ", "Name     > "}
	inputs := make([]textinput.Model, len(prompts))
	for i, p := range prompts {
		in := textinput.New()
		in.Prompt = p
		in.CharLimit = 200
		inputs[i] = in
	}
	inputs[1].EchoMode = textinput.EchoPassword
	inputs[1].EchoCharacter = '•'
	inputs[0].Focus()
	return &signupScreen{id: id, deps: deps, inputs: inputs}
}

func (s *signupScreen) Init() tea.Cmd { return textinput.Blink }

func (s *signupScreen) Close() {}

func (s *signupScreen) setFocus(i int) {
	s.inputs[s.focus].Blur()
	s.focus = (i + len(s.inputs)) % len(s.inputs)
	s.inputs[s.focus].Focus()
}

func (s *signupScreen) register(email, password, name string) tea.Cmd {
	id, deps := s.id, s.deps
	return func() tea.Msg {
		ctx, cancel := timeoutCtx()
		defer cancel()
		u, err := deps.Auth.Register(ctx, email, password)
		if err != nil {
			return signupResultMsg{screen: id, err: err}
		}
		if err := deps.Todos.SetProfile(ctx, model.Profile{UserID: u.ID, Name: name}); err != nil {
			return signupResultMsg{screen: id, err: fmt.Errorf("account created but profile not saved: %w", err)}
		}
		deps.Logger.Info("account created", "user", u.ID)
		return signupResultMsg{screen: id, email: u.Email}
	}
}

func (s *signupScreen) Update(msg tea.Msg) (screen, tea.Cmd) {
	switch msg := msg.(type) {
	case signupResultMsg:
		if msg.screen != s.id {
			return s, nil
		}
		s.busy = false
		if msg.err != nil {
			s.errorMessage = msg.err.Error()
			s.deps.Logger.Warn("sign up failed", "err", msg.err)
			return s, nil
		}
		email := msg.email
		return s, func() tea.Msg { return navigateMsg{route: RouteLogin, email: email} }

	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			return s, Navigate(RouteLogin)
		case "tab", "down":
			s.setFocus(s.focus + 1)
			return s, nil
		case "shift+tab", "up":
			s.setFocus(s.focus - 1)
			return s, nil
		case "enter":
			if s.focus < len(s.inputs)-1 {
				s.setFocus(s.focus + 1)
				return s, nil
			}
			if s.busy {
				return s, nil
			}
			email := strings.TrimSpace(s.inputs[0].Value())
			password := s.inputs[1].Value()
			name := strings.TrimSpace(s.inputs[2].Value())
			if email == "" || password == "" || name == "" {
				s.errorMessage = "Email, password and name are required"
				return s, nil
			}
			s.busy = true
			s.errorMessage = ""
			return s, s.register(email, password, name)
		}
	}

	var cmd tea.Cmd
	s.inputs[s.focus], cmd = s.inputs[s.focus].Update(msg)
	return s, cmd
}

func (s *signupScreen) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Sign up") + "\n\n")
	for _, in := range s.inputs {
		b.WriteString(in.View() + "\n")
	}
	b.WriteString("\n")
	switch {
	case s.busy:
		b.WriteString(mutedStyle.Render("Creating account...") + "\n")
	case s.errorMessage != "":
		b.WriteString(errorStyle.Render(s.errorMessage) + "\n")
	}
	b.WriteString(helpStyle.Render("enter: next / create • tab: next field • esc: back to login"))
	return panelString(b.String())
}
