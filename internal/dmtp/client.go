package dmtp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/infodancer/dmaild/internal/mail"
	"github.com/infodancer/dmaild/internal/wire"
	"golang.org/x/net/proxy"
)

// RejectedError reports a reply that was not "ok ...".
type RejectedError struct {
	Command string
	Reply   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("dmtp %s rejected: %s", e.Command, e.Reply)
}

// NewDialer returns a dialer for relay connections. With a socksProxy
// address connections go through that SOCKS5 proxy.
func NewDialer(socksProxy string, timeout time.Duration) (proxy.ContextDialer, error) {
	netDialer := &net.Dialer{Timeout: timeout}
	if socksProxy == "" {
		return netDialer, nil
	}

	socksDialer, err := proxy.SOCKS5("tcp", socksProxy, nil, netDialer)
	if err != nil {
		return nil, fmt.Errorf("creating SOCKS5 dialer: %w", err)
	}
	cd, ok := socksDialer.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("SOCKS5 dialer does not support contexts")
	}
	return cd, nil
}

// Client is the sending side of a DMTP connection.
type Client struct {
	conn net.Conn
	wc   *wire.Conn
	stop func() bool
}

// Dial connects to a DMTP server and reads its greeting. The context
// bounds the whole session, not only the dial.
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
	if !strings.HasPrefix(greeting, Greeting) {
		_ = c.Close()
		return nil, &RejectedError{Command: "greeting", Reply: greeting}
	}
	return c, nil
}

// cmd sends one command and returns the reply, which must start with "ok".
func (c *Client) cmd(name, line string) (string, error) {
	if err := c.wc.WriteLine(line); err != nil {
		return "", fmt.Errorf("sending %s: %w", name, err)
	}
	reply, err := c.wc.ReadLine()
	if err != nil {
		return "", fmt.Errorf("reading %s reply: %w", name, err)
	}
	if reply != "ok" && !strings.HasPrefix(reply, "ok ") {
		return reply, &RejectedError{Command: name, Reply: reply}
	}
	return reply, nil
}

type sendStep struct {
	name, line string
}

// Send transmits msg as one transaction. Fields holding a line break
// are refused before anything is written.
func (c *Client) Send(msg *mail.Message) error {
	if err := msg.CheckSingleLine(); err != nil {
		return err
	}
	steps := []sendStep{
		{"begin", "begin"},
		{"from", "from " + msg.Sender},
		{"to", "to " + strings.Join(msg.Recipients, ",")},
		{"subject", "subject " + msg.Subject},
		{"data", "data " + msg.Body},
	}
	if msg.Hash != "" {
		steps = append(steps, sendStep{"hash", "hash " + msg.Hash})
	}
	steps = append(steps, sendStep{"send", "send"})

	for _, st := range steps {
		if _, err := c.cmd(st.name, st.line); err != nil {
			return err
		}
	}
	return nil
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

// Relay dials address, sends msg and quits.
func Relay(ctx context.Context, dialer proxy.ContextDialer, address string, msg *mail.Message) error {
	c, err := Dial(ctx, dialer, address)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.Send(msg); err != nil {
		return err
	}
	return c.Quit()
}
