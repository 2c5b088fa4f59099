// Package mail holds the message and domain values shared by the dmaild
// protocols and the delivery engine.
package mail

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Validation errors returned by Message.Validate. Their text is the reply
// a submission server sends for the missing field.
var (
	ErrNoSender     = errors.New("error no sender")
	ErrNoRecipients = errors.New("error no recipients")
	ErrNoSubject    = errors.New("error no subject")
	ErrNoData       = errors.New("error no data")
)

// ErrLineBreak is returned by CheckSingleLine. Every DMTP field travels
// on one protocol line.
var ErrLineBreak = errors.New("field contains a line break")

// Message is a mail message as carried by DMTP and stored by mailbox
// servers. ID is empty until the message is stored.
type Message struct {
	ID         string
	Sender     string
	Recipients []string
	Subject    string
	Body       string
	Hash       string
	// Bounce marks a synthesized delivery failure notification.
	Bounce bool
}

// Validate reports whether the message is ready to be sent.
func (m *Message) Validate() error {
	switch {
	case m.Sender == "":
		return ErrNoSender
	case len(m.Recipients) == 0:
		return ErrNoRecipients
	case m.Subject == "":
		return ErrNoSubject
	case m.Body == "":
		return ErrNoData
	}
	return nil
}

// CheckSingleLine reports the first field that contains CR or LF.
func (m *Message) CheckSingleLine() error {
	fields := []struct{ name, value string }{
		{"sender", m.Sender},
		{"subject", m.Subject},
		{"data", m.Body},
		{"hash", m.Hash},
	}
	for _, r := range m.Recipients {
		fields = append(fields, struct{ name, value string }{"recipient", r})
	}
	for _, f := range fields {
		if strings.ContainsAny(f.value, "\r\n") {
			return fmt.Errorf("%w: %s", ErrLineBreak, f.name)
		}
	}
	return nil
}

// Clone returns a copy that shares no mutable state with m.
func (m *Message) Clone() *Message {
	c := *m
	c.Recipients = append([]string(nil), m.Recipients...)
	return &c
}

// IntegrityInput is the byte sequence covered by a message's hash.
func (m *Message) IntegrityInput() []byte {
	return []byte(strings.Join([]string{
		m.Sender,
		strings.Join(m.Recipients, ","),
		m.Subject,
		m.Body,
	}, "\n"))
}

// RecipientDomains returns the distinct recipient domains, lowercased, in
// first-seen order.
func (m *Message) RecipientDomains() []string {
	seen := make(map[string]bool, len(m.Recipients))
	var out []string
	for _, r := range m.Recipients {
		d := strings.ToLower(DomainOf(r))
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// NewBounce builds the failure notification for original. The bounce is
// sent by mailer and addressed to the original sender only.
func NewBounce(original *Message, mailer, subject, body string) *Message {
	return &Message{
		Sender:     mailer,
		Recipients: []string{original.Sender},
		Subject:    subject,
		Body:       body,
		Bounce:     true,
	}
}

// MailerAddress is the sender address of bounces generated on host.
func MailerAddress(host string) string {
	return "mailer@[" + host + "]"
}

// ValidAddress reports whether addr has the form local@domain with both
// parts non-empty and no whitespace.
func ValidAddress(addr string) bool {
	if addr == "" || strings.ContainsAny(addr, " \t\r\n") {
		return false
	}
	i := strings.LastIndex(addr, "@")
	if i <= 0 || i == len(addr)-1 {
		return false
	}
	return !strings.Contains(addr[:i], "@")
}

// LocalPart returns the part of addr before the last '@'.
func LocalPart(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[:i]
	}
	return addr
}

// DomainOf returns the part of addr after the last '@', or "" if there is none.
func DomainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

// Domain is the resolved network endpoint of a mail domain.
type Domain struct {
	Name string
	Host string
	Port int
}

// ParseDomain builds a Domain for name from a host:port address.
func ParseDomain(name, address string) (Domain, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return Domain{}, fmt.Errorf("domain %s: %w", name, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Domain{}, fmt.Errorf("domain %s: invalid port %q", name, portStr)
	}
	return Domain{Name: name, Host: host, Port: port}, nil
}

// Address returns the host:port the domain's mailbox server listens on.
func (d Domain) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}
