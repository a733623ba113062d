package tui

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/Makepad-fr/tada-sync/internal/docstore"
	"github.com/Makepad-fr/tada-sync/internal/identity"
	"github.com/Makepad-fr/tada-sync/internal/model"
	"github.com/Makepad-fr/tada-sync/internal/todo"
)

const waitTimeout = 5 * time.Second

type backendFixture struct {
	auth  *identity.Provider
	todos *todo.Service
	deps  Deps
}

// newBackend opens a provider and a sqlite store in a temp dir. Each mutator
// may adjust the provider options before it is opened.
func newBackend(t *testing.T, mutators ...func(*identity.Options)) *backendFixture {
	t.Helper()
	t.Setenv(identity.TokenEnv, "")
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	opts := identity.Options{
		Secret:      []byte("test-secret"),
		BcryptCost:  bcrypt.MinCost,
		SignInRate:  rate.Inf,
		SignInBurst: 1,
		Credentials: identity.Credentials{Dir: dir},
		Logger:      logger,
	}
	for _, m := range mutators {
		m(&opts)
	}
	auth, err := identity.OpenProvider(filepath.Join(dir, "identity.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = auth.Close() })

	store, err := docstore.OpenSQLite(filepath.Join(dir, "todos.db"), docstore.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	todos := todo.NewService(store)
	return &backendFixture{
		auth:  auth,
		todos: todos,
		deps: Deps{
			Auth:          auth,
			Todos:         todos,
			Logger:        logger,
			RedirectDelay: 50 * time.Millisecond,
		},
	}
}

// account registers email and, when name is not empty, its profile.
func (b *backendFixture) account(t *testing.T, email, password, name string) model.User {
	t.Helper()
	ctx := context.Background()
	u, err := b.auth.Register(ctx, email, password)
	require.NoError(t, err)
	if name != "" {
		require.NoError(t, b.todos.SetProfile(ctx, model.Profile{UserID: u.ID, Name: name}))
	}
	return u
}

// harness plays the part of the Bubble Tea runtime: commands run on their
// own goroutines and their messages are fed back through App.Update on the
// test goroutine.
type harness struct {
	t    *testing.T
	app  App
	msgs chan tea.Msg
	done chan struct{}
}

func newHarness(t *testing.T, deps Deps, start Route) *harness {
	t.Helper()
	h := &harness{
		t:    t,
		app:  NewApp(deps, start),
		msgs: make(chan tea.Msg, 64),
		done: make(chan struct{}),
	}
	t.Cleanup(func() {
		h.app.Close()
		close(h.done)
	})
	h.exec(h.app.Init())
	return h
}

func (h *harness) exec(cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	go func() {
		msg := cmd()
		switch m := msg.(type) {
		case nil:
		case tea.BatchMsg:
			for _, c := range m {
				h.exec(c)
			}
		default:
			select {
			case h.msgs <- msg:
			case <-h.done:
			}
		}
	}()
}

func (h *harness) send(msg tea.Msg) {
	m, cmd := h.app.Update(msg)
	h.app = m.(App)
	h.exec(cmd)
}

func (h *harness) key(k string) {
	switch k {
	case "enter":
		h.send(tea.KeyMsg{Type: tea.KeyEnter})
	case "tab":
		h.send(tea.KeyMsg{Type: tea.KeyTab})
	case "esc":
		h.send(tea.KeyMsg{Type: tea.KeyEsc})
	default:
		h.send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)})
	}
}

// typeText sends s as one paste-like key message.
func (h *harness) typeText(s string) {
	h.send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

// waitFor pumps messages until cond holds.
func (h *harness) waitFor(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.After(waitTimeout)
	for !cond() {
		select {
		case msg := <-h.msgs:
			if _, quit := msg.(tea.QuitMsg); quit {
				continue
			}
			h.send(msg)
		case <-deadline:
			h.t.Fatalf("timed out waiting for %s", what)
		}
	}
}

// settle pumps messages for d without expecting anything.
func (h *harness) settle(d time.Duration) {
	deadline := time.After(d)
	for {
		select {
		case msg := <-h.msgs:
			h.send(msg)
		case <-deadline:
			return
		}
	}
}

func (h *harness) login() *loginScreen {
	s, _ := h.app.screen.(*loginScreen)
	return s
}

func (h *harness) home() *homeScreen {
	s, _ := h.app.screen.(*homeScreen)
	return s
}

func (h *harness) signup() *signupScreen {
	s, _ := h.app.screen.(*signupScreen)
	return s
}

func ctrlS() tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyCtrlS} }
