package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Makepad-fr/tada-sync/internal/ui"
)

type result struct {
	code int
	out  string
	err  string
}

type fixture struct {
	t      *testing.T
	config string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv("TADA_TOKEN", "")
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: `+dir+`
auth:
  bcrypt_cost: 4
  jwt_secret: test-secret
ui:
  theme: mono
`), 0o600))
	return &fixture{t: t, config: path}
}

func (f *fixture) run(stdin string, args ...string) result {
	f.t.Helper()
	var out, errw bytes.Buffer
	code := Run(context.Background(), args, Options{
		ConfigPath: f.config,
		Stdin:      strings.NewReader(stdin),
		Stdout:     &out,
		Stderr:     &errw,
	})
	return result{code: code, out: out.String(), err: errw.String()}
}

func TestRun_UsageErrors(t *testing.T) {
	f := newFixture(t)

	r := f.run("")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.err, "Usage:")

	r = f.run("", "help")
	assert.Equal(t, 0, r.code)
	assert.Contains(t, r.out, "Subcommands:")

	r = f.run("", "frobnicate")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.err, "unknown subcommand: frobnicate")

	r = f.run("", "rm", "one")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.err, "rm: not a number: one")
}

func TestRun_BadConfig(t *testing.T) {
	f := newFixture(t)
	f.config = filepath.Join(t.TempDir(), "missing.yaml")
	r := f.run("", "ls")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.err, "config:")
}

func TestRun_RequiresLogin(t *testing.T) {
	f := newFixture(t)
	r := f.run("", "ls")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.err, "not logged in")
}

func TestRun_UserFlow(t *testing.T) {
	f := newFixture(t)

	r := f.run("", "admin", "useradd", "mary@example.com", "secret1", "Mary", "Ann")
	require.Equal(t, 0, r.code, r.err)
	assert.Contains(t, r.out, "created mary@example.com")

	r = f.run("", "admin", "useradd", "mary@example.com", "secret1")
	assert.Equal(t, 2, r.code)

	r = f.run("wrong-password\n", "auth", "login", "mary@example.com")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.err, "invalid email or password")

	r = f.run("secret1\n", "auth", "login", "mary@example.com")
	require.Equal(t, 0, r.code, r.err)
	assert.Contains(t, r.out, "Welcome Mary Ann")

	// The session is restored from the saved credentials by the next run.
	r = f.run("", "auth", "status")
	require.Equal(t, 0, r.code)
	assert.Contains(t, r.out, "user: mary@example.com")
	assert.Contains(t, r.out, "source: file")

	r = f.run("", "add", "Buy", "milk")
	require.Equal(t, 0, r.code, r.err)
	r = f.run("", "add", "Walk the dog")
	require.Equal(t, 0, r.code, r.err)
	r = f.run("", "add", "   ")
	assert.Equal(t, 2, r.code)

	r = f.run("", "ls")
	require.Equal(t, 0, r.code)
	assert.Contains(t, r.out, "Total 2")
	assert.Contains(t, r.out, " 1. - Buy milk")
	assert.Contains(t, r.out, " 2. - Walk the dog")

	r = f.run("", "edit", "2", "Walk", "the", "cat")
	require.Equal(t, 0, r.code, r.err)
	r = f.run("", "rm", "1")
	require.Equal(t, 0, r.code, r.err)
	r = f.run("", "rm", "5")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.err, "index out of range: have 1, got 5")

	r = f.run("", "ls")
	require.Equal(t, 0, r.code)
	assert.Contains(t, r.out, " 1. - Walk the cat")
	assert.NotContains(t, r.out, "- Buy milk")

	r = f.run("", "auth", "logout")
	require.Equal(t, 0, r.code)
	r = f.run("", "ls")
	assert.Equal(t, 2, r.code)
}

func TestRun_LoginWithoutProfile(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, 0, f.run("", "admin", "useradd", "ghost@example.com", "secret1").code)

	r := f.run("ghost@example.com\nsecret1\n", "auth", "login")
	require.Equal(t, 0, r.code, r.err)
	assert.Contains(t, r.err, "User does not exist")
}

func TestRun_WhoAmI(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, 0, f.run("", "admin", "useradd", "mary@example.com", "secret1", "Mary").code)
	require.Equal(t, 0, f.run("secret1\n", "auth", "login", "mary@example.com").code)

	r := f.run("", "auth", "whoami")
	require.Equal(t, 0, r.code)
	payload := strings.TrimSpace(strings.TrimPrefix(r.out, "JWT payload:"))
	var claims map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &claims))
	assert.Equal(t, "mary@example.com", claims["email"])
	assert.Equal(t, "tada", claims["iss"])
	assert.NotEmpty(t, claims["uid"])
}

func TestDecodeB64URL(t *testing.T) {
	s, err := decodeB64URL("eyJhIjoxfQ")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, s)

	s, err = decodeB64URL("eyJhIjoxfQ==")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, s)

	_, err = decodeB64URL("!!!")
	assert.Error(t, err)
}

func TestRun_ColorForcing(t *testing.T) {
	f := newFixture(t)
	run := func(theme string, force, noColor bool) string {
		var out, errw bytes.Buffer
		Run(context.Background(), []string{"ls"}, Options{
			ConfigPath: f.config,
			Theme:      theme,
			ForceColor: force,
			NoColor:    noColor,
			Stdin:      strings.NewReader(""),
			Stdout:     &out,
			Stderr:     &errw,
		})
		return errw.String()
	}

	assert.NotContains(t, run("classic", false, false), "\033[")
	assert.Contains(t, run("classic", true, false), "\033[31m")
	assert.NotContains(t, run("classic", true, true), "\033[")
	assert.NotContains(t, run("mono", true, false), "\033[")
}

func TestReadPassword_PipeReadsLine(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	_, err = w.WriteString("secret1\nignored\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var out bytes.Buffer
	e := &env{out: ui.NewPrinter(&out, &out, "mono", true), stdin: r, in: bufio.NewReader(r)}
	pw, err := e.readPassword("Password: ")
	require.NoError(t, err)
	assert.Equal(t, "secret1", pw)
	assert.Equal(t, "Password: ", out.String())
}
