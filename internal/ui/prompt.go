package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pterm/pterm"
	"golang.org/x/term"

	"cnsniper/internal/worker"
)

var _ worker.Prompter = (*Prompt)(nil)

// ErrNoInput is returned when the input ends before an answer.
var ErrNoInput = errors.New("no input")

type readResult struct {
	text string
	err  error
}

// Prompt asks the user questions on a terminal. A question returns as soon
// as its context is done; the abandoned read answers the next question.
type Prompt struct {
	in  *bufio.Reader
	out io.Writer
	fd  int

	mu      sync.Mutex
	pending chan readResult
}

// NewPrompt creates a Prompt. Passwords are read without echo when in is a
// terminal.
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	p := &Prompt{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
	}
	return p
}

// await starts read unless an earlier read is still outstanding and waits
// for its result or ctx.
func (p *Prompt) await(ctx context.Context, read func() (string, error)) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending == nil {
		ch := make(chan readResult, 1)
		go func() {
			text, err := read()
			ch <- readResult{text: text, err: err}
		}()
		p.pending = ch
	}
	select {
	case r := <-p.pending:
		p.pending = nil
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Line asks for one line of text.
func (p *Prompt) Line(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	_, _ = fmt.Fprint(p.out, pterm.Cyan("? ")+question+": ")
	line, err := p.await(ctx, func() (string, error) { return p.in.ReadString('\n') })
	if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
		_, _ = fmt.Fprintln(p.out)
		return "", err
	}
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		if errors.Is(err, io.EOF) {
			return "", ErrNoInput
		}
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Secret asks for a line without echoing it. The terminal is restored when
// ctx ends the question early.
func (p *Prompt) Secret(ctx context.Context, question string) (string, error) {
	if p.fd < 0 {
		return p.Line(ctx, question)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	state, err := term.GetState(p.fd)
	if err != nil {
		return "", fmt.Errorf("terminal state: %w", err)
	}
	_, _ = fmt.Fprint(p.out, pterm.Cyan("? ")+question+": ")
	secret, err := p.await(ctx, func() (string, error) {
		b, err := term.ReadPassword(p.fd)
		return string(b), err
	})
	_, _ = fmt.Fprintln(p.out)
	if err != nil {
		if ctx.Err() != nil {
			_ = term.Restore(p.fd, state)
			return "", ctx.Err()
		}
		return "", fmt.Errorf("read secret: %w", err)
	}
	return secret, nil
}

// Confirm asks a yes/no question; anything but y or yes is no.
func (p *Prompt) Confirm(ctx context.Context, question string) (bool, error) {
	answer, err := p.Line(ctx, question+" [y/N]")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "t", "tak":
		return true, nil
	default:
		return false, nil
	}
}

// Credentials asks for a login and password.
func (p *Prompt) Credentials(ctx context.Context) (string, string, error) {
	login, err := p.Line(ctx, "Login")
	if err != nil {
		return "", "", err
	}
	password, err := p.Secret(ctx, "Password")
	if err != nil {
		return "", "", err
	}
	return login, password, nil
}

// PromptPermission asks whether notifications may be shown.
func (p *Prompt) PromptPermission(ctx context.Context) (bool, error) {
	return p.Confirm(ctx, "Allow CN Sniper to show notifications?")
}
