package dmtp

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/infodancer/dmaild/internal/logging"
	"github.com/infodancer/dmaild/internal/mail"
	"github.com/infodancer/dmaild/internal/wire"
)

// ErrUnknownCommand is returned by Match for input no command accepts.
var ErrUnknownCommand = errors.New("unknown command")

// Command is one DMTP command matched by a regular expression.
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

// NewCommandRegistry creates a registry with all DMTP commands.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: []Command{
			&beginCommand{},
			&toCommand{},
			&fromCommand{},
			&fieldCommand{name: "subject", pattern: subjectPattern, set: func(m *mail.Message, v string) { m.Subject = v }},
			&fieldCommand{name: "data", pattern: dataPattern, set: func(m *mail.Message, v string) { m.Body = v }},
			&fieldCommand{name: "hash", pattern: hashPattern, set: func(m *mail.Message, v string) { m.Hash = v }},
			&sendCommand{},
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

// Pre-compiled regexp patterns for DMTP commands. Arguments may be empty
// so that the command can reject them with a specific error.
var (
	beginPattern   = regexp.MustCompile(`(?i)^begin\s*$`)
	toPattern      = regexp.MustCompile(`(?i)^to(?:\s+(.*?))?\s*$`)
	fromPattern    = regexp.MustCompile(`(?i)^from(?:\s+(.*?))?\s*$`)
	subjectPattern = regexp.MustCompile(`(?i)^subject(?:\s+(.*?))?\s*$`)
	dataPattern    = regexp.MustCompile(`(?i)^data(?:\s+(.*?))?\s*$`)
	hashPattern    = regexp.MustCompile(`(?i)^hash(?:\s+(.*?))?\s*$`)
	sendPattern    = regexp.MustCompile(`(?i)^send\s*$`)
	quitPattern    = regexp.MustCompile(`(?i)^quit\s*$`)
)

func errBadSequence() error {
	return wire.Errorf("protocol error")
}

type beginCommand struct{}

func (c *beginCommand) Name() string            { return "begin" }
func (c *beginCommand) Pattern() *regexp.Regexp { return beginPattern }

func (c *beginCommand) Execute(ctx context.Context, s *Session, matches []string) (wire.Reply, error) {
	if s.state != StateBegun && s.state != StateReadyToSend {
		return wire.Reply{}, errBadSequence()
	}
	s.draft = &mail.Message{}
	s.state = StateReceiving
	return wire.OK(), nil
}

type toCommand struct{}

func (c *toCommand) Name() string            { return "to" }
func (c *toCommand) Pattern() *regexp.Regexp { return toPattern }

// Execute records the recipient list and replies with the number of
// recipients local to this server. The count is informational.
func (c *toCommand) Execute(ctx context.Context, s *Session, matches []string) (wire.Reply, error) {
	if s.state != StateReceiving {
		return wire.Reply{}, errBadSequence()
	}

	var recipients []string
	seen := make(map[string]bool)
	for _, addr := range strings.Split(matches[1], ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if !mail.ValidAddress(addr) {
			return wire.Reply{}, wire.Errorf("invalid email %s", addr)
		}
		if key := strings.ToLower(addr); !seen[key] {
			seen[key] = true
			recipients = append(recipients, addr)
		}
	}
	if len(recipients) == 0 {
		return wire.Reply{}, wire.Errorf("no recipients")
	}

	local := 0
	for _, addr := range recipients {
		isLocal, err := s.cfg.Policy.Check(addr)
		if err != nil {
			return wire.Reply{}, err
		}
		if isLocal {
			local++
		}
	}

	s.draft.Recipients = recipients
	return wire.Lines("ok " + strconv.Itoa(local)), nil
}

type fromCommand struct{}

func (c *fromCommand) Name() string            { return "from" }
func (c *fromCommand) Pattern() *regexp.Regexp { return fromPattern }

func (c *fromCommand) Execute(ctx context.Context, s *Session, matches []string) (wire.Reply, error) {
	if s.state != StateReceiving {
		return wire.Reply{}, errBadSequence()
	}
	addr := matches[1]
	if addr == "" {
		return wire.Reply{}, wire.Errorf("no sender")
	}
	if !mail.ValidAddress(addr) {
		return wire.Reply{}, wire.Errorf("invalid sender email")
	}
	s.draft.Sender = addr
	return wire.OK(), nil
}

// fieldCommand sets a free-text message field that must not be empty.
type fieldCommand struct {
	name    string
	pattern *regexp.Regexp
	set     func(m *mail.Message, value string)
}

func (c *fieldCommand) Name() string            { return c.name }
func (c *fieldCommand) Pattern() *regexp.Regexp { return c.pattern }

func (c *fieldCommand) Execute(ctx context.Context, s *Session, matches []string) (wire.Reply, error) {
	if s.state != StateReceiving {
		return wire.Reply{}, errBadSequence()
	}
	if matches[1] == "" {
		return wire.Reply{}, wire.Errorf("no %s", c.name)
	}
	c.set(s.draft, matches[1])
	return wire.OK(), nil
}

type sendCommand struct{}

func (c *sendCommand) Name() string            { return "send" }
func (c *sendCommand) Pattern() *regexp.Regexp { return sendPattern }

func (c *sendCommand) Execute(ctx context.Context, s *Session, matches []string) (wire.Reply, error) {
	if s.state != StateReceiving {
		return wire.Reply{}, errBadSequence()
	}
	if err := s.draft.Validate(); err != nil {
		return wire.Reply{}, &wire.ProtocolError{Reply: err.Error()}
	}

	msg := s.draft
	if s.cfg.OnMessage != nil {
		if err := s.cfg.OnMessage(ctx, msg); err != nil {
			logging.FromContext(ctx).Warn("message hand-off failed",
				slog.String("from", msg.Sender),
				slog.String("error", err.Error()),
			)
			return wire.Reply{}, wire.Errorf("delivery failed")
		}
	}

	s.cfg.Collector.MessageAccepted(len(msg.Recipients), int64(len(msg.Body)))
	logging.FromContext(ctx).Info("message accepted",
		slog.String("from", msg.Sender),
		slog.Int("recipients", len(msg.Recipients)),
	)

	s.draft = nil
	s.state = StateReadyToSend
	return wire.OK(), nil
}

type quitCommand struct{}

func (c *quitCommand) Name() string            { return "quit" }
func (c *quitCommand) Pattern() *regexp.Regexp { return quitPattern }

func (c *quitCommand) Execute(ctx context.Context, s *Session, matches []string) (wire.Reply, error) {
	return wire.Reply{Lines: []string{"ok bye"}, Close: true}, nil
}
