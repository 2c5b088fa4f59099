package dmap

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/infodancer/dmaild/internal/logging"
	"github.com/infodancer/dmaild/internal/mail"
	"github.com/infodancer/dmaild/internal/mailbox"
	"github.com/infodancer/dmaild/internal/users"
	"github.com/infodancer/dmaild/internal/wire"
)

// ErrUnknownCommand is returned by Match for input no command accepts.
var ErrUnknownCommand = errors.New("unknown command")

// Command is one DMAP command matched by a regular expression.
type Command interface {
	// Name identifies the command in metrics.
	Name() string
	// Pattern returns the compiled regexp for matching this command.
	Pattern() *regexp.Regexp
	// Execute processes the command. matches[0] is the full line,
	// matches[1:] are capture groups.
	Execute(ctx context.Context, s *Session, matches []string) (wire.Reply, error)
}

// CommandRegistry holds registered commands and matches input against them.
type CommandRegistry struct {
	commands []Command
}

// NewCommandRegistry creates a registry with all DMAP commands.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: []Command{
			&startSecureCommand{},
			&loginCommand{},
			&listCommand{},
			&showCommand{},
			&deleteCommand{},
			&logoutCommand{},
			&quitCommand{},
		},
	}
}

// Match finds the command that matches the input line and returns it with captured groups.
func (r *CommandRegistry) Match(line string) (Command, []string, error) {
	for _, cmd := range r.commands {
		if matches := cmd.Pattern().FindStringSubmatch(line); matches != nil {
			return cmd, matches, nil
		}
	}
	return nil, nil, ErrUnknownCommand
}

// Pre-compiled regexp patterns for DMAP commands. login, show and delete
// capture their whole argument string so arity errors can be reported.
var (
	startSecurePattern = regexp.MustCompile(`(?i)^startsecure\s*$`)
	loginPattern       = regexp.MustCompile(`(?i)^login(?:\s+(.*?))?\s*$`)
	listPattern        = regexp.MustCompile(`(?i)^list\s*$`)
	showPattern        = regexp.MustCompile(`(?i)^show(?:\s+(.*?))?\s*$`)
	deletePattern      = regexp.MustCompile(`(?i)^delete(?:\s+(.*?))?\s*$`)
	logoutPattern      = regexp.MustCompile(`(?i)^logout\s*$`)
	quitPattern        = regexp.MustCompile(`(?i)^quit\s*$`)
)

func errNotLoggedIn() error {
	return wire.Errorf("not logged in")
}

func errInvalidInput() error {
	return wire.Errorf("invalid input")
}

// singleArg returns the only whitespace separated word of args.
func singleArg(args string) (string, bool) {
	fields := strings.Fields(args)
	if len(fields) != 1 {
		return "", false
	}
	return fields[0], true
}

type startSecureCommand struct{}

func (c *startSecureCommand) Name() string            { return "startsecure" }
func (c *startSecureCommand) Pattern() *regexp.Regexp { return startSecurePattern }

func (c *startSecureCommand) Execute(ctx context.Context, s *Session, matches []string) (wire.Reply, error) {
	if s.state != StateUnauthenticated || s.secure {
		return wire.Reply{}, wire.Errorf("protocol error")
	}
	if s.cfg.Keys == nil || s.cfg.ComponentID == "" {
		return wire.Reply{}, wire.Errorf("secure sessions not available")
	}
	s.state = StateUpgradeRequested
	return wire.Lines("ok " + s.cfg.ComponentID), nil
}

type loginCommand struct{}

func (c *loginCommand) Name() string            { return "login" }
func (c *loginCommand) Pattern() *regexp.Regexp { return loginPattern }

func (c *loginCommand) Execute(ctx context.Context, s *Session, matches []string) (wire.Reply, error) {
	if s.state == StateAuthenticated {
		return wire.Reply{}, wire.Errorf("already logged in with user %s", s.user)
	}
	fields := strings.Fields(matches[1])
	if len(fields) != 2 {
		return wire.Reply{}, errInvalidInput()
	}
	name, password := fields[0], fields[1]

	err := s.cfg.Users.Authenticate(name, password)
	s.cfg.Collector.AuthAttempt(err == nil)
	switch {
	case errors.Is(err, users.ErrUnknownUser):
		return wire.Reply{}, wire.Errorf("unknown user")
	case errors.Is(err, users.ErrWrongPassword):
		logging.FromContext(ctx).Info("login failed",
			slog.String("user", name),
			slog.Bool("secure", s.secure),
		)
		return wire.Reply{}, wire.Errorf("wrong password")
	case err != nil:
		return wire.Reply{}, err
	}

	s.user = name
	s.state = StateAuthenticated
	logging.FromContext(ctx).Info("user logged in",
		slog.String("user", name),
		slog.Bool("secure", s.secure),
	)
	return wire.OK(), nil
}

type listCommand struct{}

func (c *listCommand) Name() string            { return "list" }
func (c *listCommand) Pattern() *regexp.Regexp { return listPattern }

// Execute writes one "<id> <sender> <subject>" line per message followed
// by a bare "ok".
func (c *listCommand) Execute(ctx context.Context, s *Session, matches []string) (wire.Reply, error) {
	if s.state != StateAuthenticated {
		return wire.Reply{}, errNotLoggedIn()
	}
	msgs, err := s.cfg.Store.List(ctx, s.user)
	if err != nil {
		return wire.Reply{}, err
	}
	if len(msgs) == 0 {
		return wire.Lines("ok no messages"), nil
	}

	lines := make([]string, 0, len(msgs)+1)
	for _, m := range msgs {
		lines = append(lines, m.ID+" "+m.Sender+" "+m.Subject)
	}
	lines = append(lines, "ok")
	return wire.Lines(lines...), nil
}

type showCommand struct{}

func (c *showCommand) Name() string            { return "show" }
func (c *showCommand) Pattern() *regexp.Regexp { return showPattern }

func (c *showCommand) Execute(ctx context.Context, s *Session, matches []string) (wire.Reply, error) {
	if s.state != StateAuthenticated {
		return wire.Reply{}, errNotLoggedIn()
	}
	id, ok := singleArg(matches[1])
	if !ok {
		return wire.Reply{}, errInvalidInput()
	}

	m, err := s.cfg.Store.Get(ctx, s.user, id)
	if errors.Is(err, mailbox.ErrMessageNotFound) {
		return wire.Reply{}, wire.Errorf("unknown message id")
	}
	if err != nil {
		return wire.Reply{}, err
	}
	return wire.Lines(showLines(m)...), nil
}

// showLines renders a stored message in the field order of a submission.
func showLines(m *mail.Message) []string {
	lines := []string{
		"from " + m.Sender,
		"to " + strings.Join(m.Recipients, ","),
		"subject " + m.Subject,
		"data " + m.Body,
	}
	if m.Hash != "" {
		lines = append(lines, "hash "+m.Hash)
	}
	return append(lines, "ok")
}

type deleteCommand struct{}

func (c *deleteCommand) Name() string            { return "delete" }
func (c *deleteCommand) Pattern() *regexp.Regexp { return deletePattern }

func (c *deleteCommand) Execute(ctx context.Context, s *Session, matches []string) (wire.Reply, error) {
	if s.state != StateAuthenticated {
		return wire.Reply{}, errNotLoggedIn()
	}
	id, ok := singleArg(matches[1])
	if !ok {
		return wire.Reply{}, errInvalidInput()
	}

	err := s.cfg.Store.Delete(ctx, s.user, id)
	if errors.Is(err, mailbox.ErrMessageNotFound) {
		return wire.Reply{}, wire.Errorf("unknown message id")
	}
	if err != nil {
		return wire.Reply{}, err
	}
	return wire.OK(), nil
}

type logoutCommand struct{}

func (c *logoutCommand) Name() string            { return "logout" }
func (c *logoutCommand) Pattern() *regexp.Regexp { return logoutPattern }

func (c *logoutCommand) Execute(ctx context.Context, s *Session, matches []string) (wire.Reply, error) {
	if s.state != StateAuthenticated {
		return wire.Reply{}, errNotLoggedIn()
	}
	s.user = ""
	s.state = StateUnauthenticated
	return wire.OK(), nil
}

type quitCommand struct{}

func (c *quitCommand) Name() string            { return "quit" }
func (c *quitCommand) Pattern() *regexp.Regexp { return quitPattern }

func (c *quitCommand) Execute(ctx context.Context, s *Session, matches []string) (wire.Reply, error) {
	return wire.Reply{Lines: []string{"ok bye"}, Close: true}, nil
}
