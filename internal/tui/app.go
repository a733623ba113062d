// Package tui is the interactive terminal client: a login screen, a sign-up
// screen and the live to-do list, switched by a small router.
package tui

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Makepad-fr/tada-sync/internal/model"
	"github.com/Makepad-fr/tada-sync/internal/todo"
)

// Route names a screen.
type Route string

const (
	RouteLogin  Route = "/login"
	RouteHome   Route = "/home"
	RouteSignup Route = "/signup"
)

// requestTimeout bounds every backend call made from a command.
const requestTimeout = 15 * time.Second

// Auth is the part of the identity provider the screens use.
type Auth interface {
	SignIn(ctx context.Context, email, password string) (model.User, error)
	SignOut(ctx context.Context) error
	Register(ctx context.Context, email, password string) (model.User, error)
	CurrentUser() *model.User
	OnSessionChange(fn func(*model.User)) (unsubscribe func())
}

// Todos is the part of the to-do service the screens use.
type Todos interface {
	Add(ctx context.Context, userID, text string) (model.Item, error)
	UpdateText(ctx context.Context, id, text string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, userID string) ([]model.Item, error)
	Profile(ctx context.Context, userID string) (model.Profile, error)
	SetProfile(ctx context.Context, p model.Profile) error
	Watch(ctx context.Context, userID string) (*todo.Feed, error)
}

// Deps is what every screen is built from.
type Deps struct {
	Auth   Auth
	Todos  Todos
	Logger *slog.Logger
	// RedirectDelay is how long the welcome notice stays up before the
	// login screen moves on to the list.
	RedirectDelay time.Duration
}

// screen is one mounted route. Close releases subscriptions and is called
// when the router navigates away.
type screen interface {
	Init() tea.Cmd
	Update(msg tea.Msg) (screen, tea.Cmd)
	View() string
	Close()
}

type navigateMsg struct {
	route Route
	// email prefills the login form.
	email string
}

// Navigate switches to route, unmounting the current screen.
func Navigate(route Route) tea.Cmd {
	return func() tea.Msg { return navigateMsg{route: route} }
}

// mountSeq tags screens so results addressed to an unmounted screen are
// dropped.
var mountSeq atomic.Int64

// App is the root Bubble Tea model.
type App struct {
	deps   Deps
	route  Route
	screen screen
	width  int
	height int
}

// NewApp mounts start. An unknown route falls back to the login screen.
func NewApp(deps Deps, start Route) App {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	a := App{deps: deps, width: 80, height: 24}
	a.mount(navigateMsg{route: start})
	return a
}

// StartRoute picks the first screen from the restored session.
func StartRoute(auth Auth) Route {
	if auth.CurrentUser() != nil {
		return RouteHome
	}
	return RouteLogin
}

func (a *App) mount(msg navigateMsg) {
	id := mountSeq.Add(1)
	switch msg.route {
	case RouteHome:
		a.screen = newHomeScreen(id, a.deps, a.width, a.height)
	case RouteSignup:
		a.screen = newSignupScreen(id, a.deps)
	default:
		msg.route = RouteLogin
		a.screen = newLoginScreen(id, a.deps, msg.email)
	}
	a.route = msg.route
	a.deps.Logger.Debug("navigate", "route", a.route)
}

// Route reports the mounted route.
func (a App) Route() Route { return a.route }

// Close unmounts the current screen.
func (a App) Close() {
	if a.screen != nil {
		a.screen.Close()
	}
}

func (a App) Init() tea.Cmd { return a.screen.Init() }

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return a, tea.Quit
		}
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
	case navigateMsg:
		a.screen.Close()
		a.mount(msg)
		return a, a.screen.Init()
	}
	var cmd tea.Cmd
	a.screen, cmd = a.screen.Update(msg)
	return a, cmd
}

func (a App) View() string { return a.screen.View() }

// Run starts the program on the alternate screen and blocks until the user
// quits.
func Run(deps Deps) error {
	app := NewApp(deps, StartRoute(deps.Auth))
	p := tea.NewProgram(app, tea.WithAltScreen())
	final, err := p.Run()
	if m, ok := final.(App); ok {
		m.Close()
	} else {
		app.Close()
	}
	return err
}

func timeoutCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}
