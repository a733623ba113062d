// Package identity is the app's identity provider: email/password accounts,
// signed session tokens persisted between runs, and session-change
// notifications.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/Makepad-fr/tada-sync/internal/model"

	_ "modernc.org/sqlite"
)

var (
	// ErrInvalidCredentials is returned when the email or password is wrong.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrTooManyAttempts is returned when sign-in is throttled for an email.
	ErrTooManyAttempts = errors.New("too many sign-in attempts, try again later")
	// ErrEmailInUse is returned by Register for a taken email.
	ErrEmailInUse = errors.New("email already in use")
	// ErrWeakPassword is returned by Register for passwords under MinPasswordLen.
	ErrWeakPassword = errors.New("password must be at least 6 characters")
	// ErrInvalidEmail is returned by Register for an empty or malformed email.
	ErrInvalidEmail = errors.New("invalid email")
)

const MinPasswordLen = 6

// Options configures a Provider.
type Options struct {
	Secret      []byte
	TokenTTL    time.Duration
	BcryptCost  int
	SignInRate  rate.Limit
	SignInBurst int
	Credentials Credentials
	Logger      *slog.Logger
	Now         func() time.Time
}

// Session is the signed-in state.
type Session struct {
	User      model.User
	Token     string
	Source    string
	ExpiresAt time.Time
}

// Provider authenticates users and tracks the current session.
type Provider struct {
	db   *sql.DB
	opts Options
	log  *slog.Logger

	attempts *attemptLimiter

	mu      sync.Mutex
	session *Session
	expiry  *time.Timer

	// notifyMu serializes deliveries so listeners observe transitions in order.
	notifyMu  sync.Mutex
	listeners map[int]func(*model.User)
	nextID    int
}

// OpenProvider opens the account database at path.
func OpenProvider(path string, opts Options) (*Provider, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	p, err := NewProvider(db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// NewProvider creates the provider and restores a saved session if the stored
// token is still valid.
func NewProvider(db *sql.DB, opts Options) (*Provider, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("identity: empty token secret")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 30 * 24 * time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.SignInRate == 0 {
		opts.SignInRate = rate.Every(2 * time.Second)
	}
	if opts.SignInBurst == 0 {
		opts.SignInBurst = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	p := &Provider{
		db:        db,
		opts:      opts,
		log:       opts.Logger.With("component", "identity"),
		attempts:  newAttemptLimiter(opts.SignInRate, opts.SignInBurst),
		listeners: make(map[int]func(*model.User)),
	}
	if err := p.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	p.restore()
	return p, nil
}

func (p *Provider) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);`
	_, err := p.db.ExecContext(context.Background(), query)
	return err
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Register creates an account. It does not sign the account in.
func (p *Provider) Register(ctx context.Context, email, password string) (model.User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return model.User{}, ErrInvalidEmail
	}
	if len(password) < MinPasswordLen {
		return model.User{}, ErrWeakPassword
	}

	var count int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE email = ?`, email).Scan(&count); err != nil {
		return model.User{}, fmt.Errorf("lookup account: %w", err)
	}
	if count > 0 {
		return model.User{}, ErrEmailInUse
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.opts.BcryptCost)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := model.User{ID: uuid.NewString(), Email: email}
	if _, err := p.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, string(hash), p.opts.Now().UTC()); err != nil {
		return model.User{}, fmt.Errorf("create account: %w", err)
	}
	p.log.InfoContext(ctx, "account registered", "user", u.ID)
	return u, nil
}

// SignIn verifies the credentials, starts a session and persists its token.
func (p *Provider) SignIn(ctx context.Context, email, password string) (model.User, error) {
	email = normalizeEmail(email)
	if !p.attempts.allow(email, p.opts.Now()) {
		return model.User{}, ErrTooManyAttempts
	}

	var id, hash string
	err := p.db.QueryRowContext(ctx, `SELECT id, password_hash FROM accounts WHERE email = ?`, email).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.User{}, fmt.Errorf("lookup account: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return model.User{}, ErrInvalidCredentials
	}

	u := model.User{ID: id, Email: email}
	tok, exp, err := signToken(p.opts.Secret, u.ID, u.Email, p.opts.Now(), p.opts.TokenTTL)
	if err != nil {
		return model.User{}, err
	}
	if err := p.opts.Credentials.Save(tok, &exp); err != nil {
		// The session still works for this run.
		p.log.WarnContext(ctx, "save credentials failed", "error", err)
	}
	p.start(&Session{User: u, Token: tok, Source: "file", ExpiresAt: exp})
	p.log.InfoContext(ctx, "signed in", "user", u.ID)
	p.deliver()
	return u, nil
}

// SignOut ends the session and removes the saved token.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	s := p.session
	p.stopLocked()
	p.mu.Unlock()

	var err error
	if s == nil || s.Source != "env" {
		err = p.opts.Credentials.Delete()
	}
	if s != nil {
		p.log.InfoContext(ctx, "signed out", "user", s.User.ID)
	}
	p.deliver()
	return err
}

// CurrentUser returns the signed-in user, or nil.
func (p *Provider) CurrentUser() *model.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	u := p.session.User
	return &u
}

// Session returns a copy of the current session.
func (p *Provider) Session() (Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return Session{}, false
	}
	return *p.session, true
}

// OnSessionChange registers fn to receive the current user (nil when signed
// out) now and after every transition, until the returned func is called.
// fn runs synchronously and must not call back into the provider.
func (p *Provider) OnSessionChange(fn func(*model.User)) (unsubscribe func()) {
	p.notifyMu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	fn(p.CurrentUser())
	p.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.notifyMu.Lock()
			delete(p.listeners, id)
			p.notifyMu.Unlock()
		})
	}
}

func (p *Provider) deliver() {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	u := p.CurrentUser()
	for _, fn := range p.listeners {
		fn(u)
	}
}

func (p *Provider) start(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.session = s
	token := s.Token
	p.expiry = time.AfterFunc(s.ExpiresAt.Sub(p.opts.Now()), func() { p.expire(token) })
}

func (p *Provider) stopLocked() {
	if p.expiry != nil {
		p.expiry.Stop()
		p.expiry = nil
	}
	p.session = nil
}

// expire ends the session identified by token if it is still current.
func (p *Provider) expire(token string) {
	p.mu.Lock()
	if p.session == nil || p.session.Token != token {
		p.mu.Unlock()
		return
	}
	s := p.session
	p.stopLocked()
	p.mu.Unlock()

	p.log.Info("session expired", "user", s.User.ID)
	if s.Source != "env" {
		if err := p.opts.Credentials.Delete(); err != nil {
			p.log.Warn("remove expired credentials failed", "error", err)
		}
	}
	p.deliver()
}

func (p *Provider) restore() {
	ti, err := p.opts.Credentials.Load()
	if err != nil {
		p.log.Warn("load credentials failed", "error", err)
		return
	}
	if ti == nil {
		return
	}
	claims, err := parseToken(p.opts.Secret, ti.Token, p.opts.Now())
	if err != nil {
		p.log.Info("saved session rejected", "source", ti.Source, "error", err)
		return
	}
	var email string
	err = p.db.QueryRowContext(context.Background(), `SELECT email FROM accounts WHERE id = ?`, claims.UserID).Scan(&email)
	if err != nil {
		p.log.Info("saved session has no account", "user", claims.UserID, "error", err)
		return
	}
	p.start(&Session{
		User:      model.User{ID: claims.UserID, Email: email},
		Token:     ti.Token,
		Source:    ti.Source,
		ExpiresAt: claims.ExpiresAt.Time,
	})
}

// Close stops the expiry timer and closes the account database.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.expiry != nil {
		p.expiry.Stop()
	}
	p.mu.Unlock()
	return p.db.Close()
}
