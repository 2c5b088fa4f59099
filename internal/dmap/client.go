package dmap

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/infodancer/dmaild/internal/mail"
	"github.com/infodancer/dmaild/internal/secure"
	"github.com/infodancer/dmaild/internal/wire"
	"golang.org/x/net/proxy"
)

// ErrChallengeMismatch is returned by StartSecure when the server does
// not echo the challenge under the negotiated cipher.
var ErrChallengeMismatch = errors.New("challenge mismatch")

// RejectedError reports an "error ..." reply from the server.
type RejectedError struct {
	Command string
	Reply   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("dmap %s rejected: %s", e.Command, e.Reply)
}

// PublicKeys looks up the public key of a component.
type PublicKeys interface {
	PublicKey(id string) (*rsa.PublicKey, error)
}

// Summary is one entry of a list reply.
type Summary struct {
	ID      string
	Sender  string
	Subject string
}

// Client is the user agent side of a DMAP connection.
type Client struct {
	conn   net.Conn
	wc     *wire.Conn
	stop   func() bool
	secure bool
}

// Dial connects to a DMAP server and reads its greeting. The context
// bounds the whole session.
func Dial(ctx context.Context, dialer proxy.ContextDialer, address string) (*Client, error) {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}
	return NewClient(ctx, conn)
}

// NewClient runs the client side of the protocol over an established
// connection and reads the greeting.
func NewClient(ctx context.Context, conn net.Conn) (*Client, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c := &Client{
		conn: conn,
		wc:   wire.NewConn(conn, conn),
		stop: context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) }),
	}

	greeting, err := c.wc.ReadLine()
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("reading greeting: %w", err)
	}
	if greeting != Greeting {
		_ = c.Close()
		return nil, &RejectedError{Command: "greeting", Reply: greeting}
	}
	return c, nil
}

// Secure reports whether StartSecure completed.
func (c *Client) Secure() bool {
	return c.secure
}

// StartSecure upgrades the connection to an encrypted session. The
// server's public key is looked up in keys by the component id the server
// announces. On ErrChallengeMismatch the connection is closed.
func (c *Client) StartSecure(keys PublicKeys) error {
	reply, err := c.cmd("startsecure", "startsecure")
	if err != nil {
		return err
	}
	componentID := strings.TrimSpace(strings.TrimPrefix(reply, "ok"))
	if componentID == "" {
		return &RejectedError{Command: "startsecure", Reply: reply}
	}

	pub, err := keys.PublicKey(componentID)
	if err != nil {
		return fmt.Errorf("public key of %s: %w", componentID, err)
	}
	challenge, err := secure.NewChallenge()
	if err != nil {
		return err
	}
	ciphertext, err := secure.Encrypt(pub, []byte(challenge.String()))
	if err != nil {
		return fmt.Errorf("encrypting challenge: %w", err)
	}
	cipher, err := challenge.Cipher(secure.RoleClient)
	if err != nil {
		return err
	}

	if err := c.wc.WriteLine(base64.StdEncoding.EncodeToString(ciphertext)); err != nil {
		return fmt.Errorf("sending challenge: %w", err)
	}
	c.wc.SetCodec(secure.NewCodec(cipher))

	// A server without the matching private key cannot answer at all.
	response, err := c.wc.ReadLine()
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("%w: reading response: %v", ErrChallengeMismatch, err)
	}
	if !challenge.VerifyResponse(response) {
		_ = c.Close()
		return ErrChallengeMismatch
	}

	if err := c.wc.WriteLine("ok"); err != nil {
		return fmt.Errorf("confirming secure session: %w", err)
	}
	c.secure = true
	return nil
}

// cmd sends one command and returns its single reply line, which must
// start with "ok".
func (c *Client) cmd(name, line string) (string, error) {
	if err := c.wc.WriteLine(line); err != nil {
		return "", fmt.Errorf("sending %s: %w", name, err)
	}
	return c.readReply(name)
}

func (c *Client) readReply(name string) (string, error) {
	reply, err := c.wc.ReadLine()
	if err != nil {
		return "", fmt.Errorf("reading %s reply: %w", name, err)
	}
	if reply != "ok" && !strings.HasPrefix(reply, "ok ") {
		return reply, &RejectedError{Command: name, Reply: reply}
	}
	return reply, nil
}

// multi sends a command whose reply is a block of lines ended by "ok" and
// returns the lines before it.
func (c *Client) multi(name, line string) ([]string, error) {
	if err := c.wc.WriteLine(line); err != nil {
		return nil, fmt.Errorf("sending %s: %w", name, err)
	}
	var lines []string
	for {
		l, err := c.wc.ReadLine()
		if err != nil {
			return nil, fmt.Errorf("reading %s reply: %w", name, err)
		}
		if !wire.IsTerminal(l) {
			lines = append(lines, l)
			continue
		}
		if wire.IsError(l) {
			return nil, &RejectedError{Command: name, Reply: l}
		}
		if l != "ok" {
			// "ok no messages" and similar one-line answers.
			return nil, nil
		}
		return lines, nil
	}
}

// Login authenticates as user.
func (c *Client) Login(user, password string) error {
	_, err := c.cmd("login", "login "+user+" "+password)
	return err
}

// List returns the summaries of the logged in user's messages.
func (c *Client) List() ([]Summary, error) {
	lines, err := c.multi("list", "list")
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(lines))
	for _, l := range lines {
		id, rest, _ := strings.Cut(l, " ")
		sender, subject, _ := strings.Cut(rest, " ")
		out = append(out, Summary{ID: id, Sender: sender, Subject: subject})
	}
	return out, nil
}

// Show fetches one message.
func (c *Client) Show(id string) (*mail.Message, error) {
	lines, err := c.multi("show", "show "+id)
	if err != nil {
		return nil, err
	}
	m := &mail.Message{ID: id}
	for _, l := range lines {
		field, value, _ := strings.Cut(l, " ")
		switch field {
		case "from":
			m.Sender = value
		case "to":
			for _, r := range strings.Split(value, ",") {
				if r = strings.TrimSpace(r); r != "" {
					m.Recipients = append(m.Recipients, r)
				}
			}
		case "subject":
			m.Subject = value
		case "data":
			m.Body = value
		case "hash":
			m.Hash = value
		}
	}
	return m, nil
}

// Delete removes one message.
func (c *Client) Delete(id string) error {
	_, err := c.cmd("delete", "delete "+id)
	return err
}

// Logout ends the login; the connection stays open.
func (c *Client) Logout() error {
	_, err := c.cmd("logout", "logout")
	return err
}

// Quit ends the session. The connection is closed by Close.
func (c *Client) Quit() error {
	_, err := c.cmd("quit", "quit")
	return err
}

// Close closes the connection.
func (c *Client) Close() error {
	c.stop()
	return c.conn.Close()
}
