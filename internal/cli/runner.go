// Package cli routes tada subcommands to the backend and the TUI.
package cli

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/Makepad-fr/tada-sync/internal/backend"
	"github.com/Makepad-fr/tada-sync/internal/config"
	"github.com/Makepad-fr/tada-sync/internal/identity"
	"github.com/Makepad-fr/tada-sync/internal/logging"
	"github.com/Makepad-fr/tada-sync/internal/model"
	"github.com/Makepad-fr/tada-sync/internal/todo"
	"github.com/Makepad-fr/tada-sync/internal/tui"
	"github.com/Makepad-fr/tada-sync/internal/ui"
)

// Options tune behavior from root flags.
type Options struct {
	ConfigPath string
	Theme      string // overrides ui.theme when set
	NoColor    bool
	ForceColor bool // color even when stdout is not a terminal

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (o *Options) defaults() {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

// env is what every subcommand runs against.
type env struct {
	ctx    context.Context
	cfg    config.Config
	out    *ui.Printer
	stdin  io.Reader
	in     *bufio.Reader
	logger *slog.Logger
	h      *backend.Handle
}

// Run dispatches subcommands and returns an exit code (0 ok, 1 error, 2 usage).
func Run(ctx context.Context, args []string, opt Options) int {
	opt.defaults()
	if len(args) == 0 {
		PrintHelp(opt.Stderr)
		return 2
	}
	cmd, a := args[0], args[1:]
	switch cmd {
	case "help", "-h", "--help":
		PrintHelp(opt.Stdout)
		return 0
	}
	if !known(cmd) {
		ui.NewPrinter(opt.Stdout, opt.Stderr, opt.Theme, opt.NoColor).Fail("unknown subcommand: " + cmd)
		fmt.Fprintln(opt.Stderr)
		PrintHelp(opt.Stderr)
		return 2
	}

	cfg, err := config.Load(opt.ConfigPath)
	if opt.Theme != "" {
		cfg.UI.Theme = opt.Theme
	}
	cfg.UI.NoColor = cfg.UI.NoColor || opt.NoColor
	out := ui.NewPrinter(opt.Stdout, opt.Stderr, cfg.UI.Theme, cfg.UI.NoColor)
	out.SetColorForcing(opt.ForceColor, cfg.UI.NoColor)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		out.Fail("config: " + err.Error())
		return 1
	}

	logger, closer, err := logging.OpenFile(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		out.Fail("log: " + err.Error())
		return 1
	}
	defer closer.Close()

	h, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		out.Fail("backend: " + err.Error())
		logger.Error("backend init failed", "err", err)
		return 1
	}
	defer func() {
		if err := h.Close(); err != nil {
			logger.Warn("backend close", "err", err)
		}
	}()

	e := &env{ctx: ctx, cfg: cfg, out: out, stdin: opt.Stdin, in: bufio.NewReader(opt.Stdin), logger: logger, h: h}
	return e.dispatch(cmd, a)
}

func known(cmd string) bool {
	switch cmd {
	case "ui", "auth", "ls", "add", "edit", "rm", "watch", "admin":
		return true
	}
	return false
}

func (e *env) dispatch(cmd string, a []string) int {
	switch cmd {
	case "ui":
		return e.doUI()

	case "ls":
		return e.doList()

	case "add":
		if len(a) == 0 {
			e.out.Fail("usage: tada add <text...>")
			return 2
		}
		return e.doAdd(strings.Join(a, " "))

	case "edit":
		if len(a) < 2 {
			e.out.Fail("usage: tada edit <index> <text...>")
			return 2
		}
		n, err := strconv.Atoi(a[0])
		if err != nil {
			e.out.Fail("edit: not a number: " + a[0])
			return 2
		}
		return e.doEdit(n, strings.Join(a[1:], " "))

	case "rm":
		if len(a) != 1 {
			e.out.Fail("usage: tada rm <index>")
			return 2
		}
		n, err := strconv.Atoi(a[0])
		if err != nil {
			e.out.Fail("rm: not a number: " + a[0])
			return 2
		}
		return e.doRemove(n)

	case "watch":
		return e.doWatch()

	case "auth":
		if len(a) == 0 {
			e.out.Fail("usage: tada auth <login|logout|status|whoami>")
			return 2
		}
		switch a[0] {
		case "login":
			return e.doAuthLogin(a[1:])
		case "logout":
			return e.doAuthLogout()
		case "status":
			return e.doAuthStatus()
		case "whoami":
			return e.doAuthWhoAmI()
		}
		e.out.Fail("usage: tada auth <login|logout|status|whoami>")
		return 2

	case "admin":
		if len(a) < 3 || a[0] != "useradd" {
			e.out.Fail("usage: tada admin useradd <email> <password> [name...]")
			return 2
		}
		return e.doUserAdd(a[1], a[2], strings.Join(a[3:], " "))
	}
	return 2
}

func PrintHelp(w io.Writer) {
	fmt.Fprint(w, `tada - a synced to-do list

Usage:
  tada [-config file] [-theme classic|neon|mono] [-color|-no-color] <subcommand> [args]

Subcommands:
  ui                          Interactive app (login, sign up, live list)
  ls                          List your items
  add <text...>               Add an item (text can be multiple words)
  edit <index> <text...>      Replace the text of the item at 1-based index
  rm <index>                  Remove the item at 1-based index
  watch                       Print the list again whenever it changes
  auth login [email]          Sign in (password input is hidden on a terminal)
  auth logout                 Sign out
  auth status                 Show the current session
  auth whoami                 Print the session token payload
  admin useradd <email> <password> [name...]
                              Create an account and its profile

Examples:
  tada admin useradd mary@example.com s3cret Mary
  tada auth login mary@example.com
  tada add "Buy milk"
  tada ls
  tada rm 1
`)
}

// ---------------------------------------------------
// Interactive app
// ---------------------------------------------------

func (e *env) doUI() int {
	err := tui.Run(tui.Deps{
		Auth:          e.h.Auth,
		Todos:         e.h.Todos,
		Logger:        e.logger,
		RedirectDelay: e.cfg.UI.RedirectDelay,
	})
	if err != nil {
		e.out.Fail("tui: " + err.Error())
		return 1
	}
	return 0
}

// ---------------------------------------------------
// Auth subcommands
// ---------------------------------------------------

func (e *env) prompt(label string) (string, error) {
	fmt.Fprint(e.out.Out, label)
	line, err := e.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readPassword reads without echo when stdin is a terminal, and a plain
// line otherwise.
func (e *env) readPassword(label string) (string, error) {
	if f, ok := e.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(e.out.Out, label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(e.out.Out)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return e.prompt(label)
}

func (e *env) doAuthLogin(a []string) int {
	var email string
	if len(a) > 0 {
		email = a[0]
	} else {
		s, err := e.prompt("Email: ")
		if err != nil {
			e.out.Fail("read email: " + err.Error())
			return 1
		}
		email = s
	}
	password, err := e.readPassword("Password: ")
	if err != nil {
		e.out.Fail("read password: " + err.Error())
		return 1
	}

	u, err := e.h.Auth.SignIn(e.ctx, email, password)
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, identity.ErrTooManyAttempts):
		e.out.Fail(err.Error())
		return 1
	case err != nil:
		e.out.Fail("login: " + err.Error())
		return 1
	}
	p, err := e.h.Todos.Profile(e.ctx, u.ID)
	switch {
	case errors.Is(err, todo.ErrProfileNotFound):
		e.out.Hint("User does not exist")
	case err != nil:
		e.out.Fail("profile: " + err.Error())
		return 1
	default:
		e.out.OK("Welcome " + p.Name)
	}
	return 0
}

func (e *env) doAuthLogout() int {
	s, ok := e.h.Auth.Session()
	if ok && s.Source == "env" {
		e.out.OK("token is provided by " + identity.TokenEnv + " env var (nothing to delete)")
		return 0
	}
	if err := e.h.Auth.SignOut(e.ctx); err != nil {
		e.out.Fail("logout: " + err.Error())
		return 1
	}
	e.out.OK("logged out")
	return 0
}

func (e *env) doAuthStatus() int {
	s, ok := e.h.Auth.Session()
	if !ok {
		e.out.Println(e.out.C(e.out.Theme().Muted, "not logged in"))
		e.out.Println("Run: tada auth login")
		return 0
	}
	e.out.Printf("user: %s\n", s.User.Email)
	e.out.Printf("source: %s\n", s.Source)
	e.out.Printf("expires: %s\n", s.ExpiresAt.UTC().Format(time.RFC3339))
	e.out.Printf("env override: %s\n", identity.TokenEnv)
	return 0
}

// whoami decodes the JWT payload locally without verifying it.
func (e *env) doAuthWhoAmI() int {
	s, ok := e.h.Auth.Session()
	if !ok {
		e.out.Fail("not logged in. Run: tada auth login")
		return 2
	}
	parts := strings.Split(s.Token, ".")
	if len(parts) == 3 {
		if p, err := decodeB64URL(parts[1]); err == nil {
			e.out.Println("JWT payload:")
			e.out.Println(p)
			return 0
		}
	}
	e.out.Println("Opaque token (cannot introspect locally).")
	e.out.Println("source:", s.Source)
	return 0
}

func decodeB64URL(s string) (string, error) {
	dec, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		dec2, err2 := base64.URLEncoding.DecodeString(s)
		if err2 != nil {
			return "", err
		}
		return string(dec2), nil
	}
	return string(dec), nil
}

// ensureAuth requires a signed-in user.
func (e *env) ensureAuth() (*model.User, int) {
	u := e.h.Auth.CurrentUser()
	if u == nil {
		e.out.Fail("not logged in. Run `tada auth login` or set " + identity.TokenEnv)
		return nil, 2
	}
	return u, 0
}

func (e *env) doUserAdd(email, password, name string) int {
	u, err := e.h.Auth.Register(e.ctx, email, password)
	if err != nil {
		e.out.Fail("useradd: " + err.Error())
		if errors.Is(err, identity.ErrEmailInUse) || errors.Is(err, identity.ErrWeakPassword) || errors.Is(err, identity.ErrInvalidEmail) {
			return 2
		}
		return 1
	}
	if name = strings.TrimSpace(name); name != "" {
		if err := e.h.Todos.SetProfile(e.ctx, model.Profile{UserID: u.ID, Name: name}); err != nil {
			e.out.Fail("useradd: profile: " + err.Error())
			return 1
		}
	}
	e.out.OK("created " + u.Email)
	return 0
}

// ---------------------------------------------------
// Item subcommands
// ---------------------------------------------------

func (e *env) doList() int {
	u, code := e.ensureAuth()
	if u == nil {
		return code
	}
	items, err := e.h.Todos.List(e.ctx, u.ID)
	if err != nil {
		e.out.Fail("list: " + err.Error())
		return 1
	}
	e.out.ItemPanel("Todos", items, "Tip: add with `tada add \"Buy milk\"`")
	return 0
}

func (e *env) doAdd(text string) int {
	u, code := e.ensureAuth()
	if u == nil {
		return code
	}
	if _, err := e.h.Todos.Add(e.ctx, u.ID, text); err != nil {
		if errors.Is(err, todo.ErrEmptyText) {
			e.out.Fail("add: empty text")
			return 2
		}
		e.out.Fail("add: " + err.Error())
		return 1
	}
	e.out.OK("added")
	return 0
}

// pick resolves a 1-based index against the current list.
func (e *env) pick(userIndex int) (model.Item, int) {
	u, code := e.ensureAuth()
	if u == nil {
		return model.Item{}, code
	}
	items, err := e.h.Todos.List(e.ctx, u.ID)
	if err != nil {
		e.out.Fail("list: " + err.Error())
		return model.Item{}, 1
	}
	if userIndex < 1 || userIndex > len(items) {
		e.out.Fail(fmt.Sprintf("index out of range: have %d, got %d", len(items), userIndex))
		e.out.Hint("Hint: run `tada ls` to see valid indexes")
		return model.Item{}, 2
	}
	return items[userIndex-1], 0
}

func (e *env) doEdit(userIndex int, text string) int {
	it, code := e.pick(userIndex)
	if code != 0 {
		return code
	}
	if err := e.h.Todos.UpdateText(e.ctx, it.ID, text); err != nil {
		if errors.Is(err, todo.ErrEmptyText) {
			e.out.Fail("edit: empty text")
			return 2
		}
		e.out.Fail("edit: " + err.Error())
		return 1
	}
	e.out.OK("updated")
	return 0
}

func (e *env) doRemove(userIndex int) int {
	it, code := e.pick(userIndex)
	if code != 0 {
		return code
	}
	if err := e.h.Todos.Delete(e.ctx, it.ID); err != nil {
		e.out.Fail("rm: " + err.Error())
		return 1
	}
	e.out.OK("removed")
	return 0
}

// doWatch prints the list on every change until ctx is cancelled.
func (e *env) doWatch() int {
	u, code := e.ensureAuth()
	if u == nil {
		return code
	}
	feed, err := e.h.Todos.Watch(e.ctx, u.ID)
	if err != nil {
		e.out.Fail("watch: " + err.Error())
		return 1
	}
	defer feed.Close()
	for {
		select {
		case up, ok := <-feed.C():
			if !ok {
				return 0
			}
			if up.Err != nil {
				e.out.Fail("watch: " + up.Err.Error())
				e.logger.Error("watch update failed", "err", up.Err)
				continue
			}
			e.out.ItemPanel("Todos "+time.Now().Format(time.TimeOnly), up.Items, "")
		case <-e.ctx.Done():
			return 0
		}
	}
}
