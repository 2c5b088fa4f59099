// Package naming implements the hierarchical name service that maps mail
// domains to mailbox server addresses.
//
// Each zone authority holds delegations to child zones and mailbox entries
// for its direct labels. Domains are resolved right to left: the root
// hands off to the authority for the rightmost label, which hands off to
// the next, until the leftmost label is looked up as a mailbox entry.
package naming

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Naming errors. They keep their identity across remote calls.
var (
	ErrAlreadyRegistered = errors.New("already registered")
	ErrInvalidDomain     = errors.New("invalid domain")
	ErrNotFound          = errors.New("not found")
)

// Authority is one node of the naming tree. A local Zone and a Remote stub
// are interchangeable.
type Authority interface {
	// RegisterZone installs child as the authority for domain.
	RegisterZone(ctx context.Context, domain string, child Authority) error
	// RegisterMailbox installs address as the mailbox server for domain.
	RegisterMailbox(ctx context.Context, domain, address string) error
	// ChildAuthority returns the authority delegated for label.
	ChildAuthority(ctx context.Context, label string) (Authority, error)
	// Lookup returns the mailbox server address registered for label.
	Lookup(ctx context.Context, label string) (string, error)
}

// MailboxEntry is a leaf registration.
type MailboxEntry struct {
	Label   string
	Address string
}

// ZoneDelegation is a registration of a child authority.
type ZoneDelegation struct {
	Label     string
	Authority Authority
}

// Zone is an in-process Authority. It is safe for concurrent use.
type Zone struct {
	name      string
	zones     sync.Map // label -> Authority
	mailboxes sync.Map // label -> string
}

// NewZone creates an empty zone. name is only used for display; the root
// zone has an empty name.
func NewZone(name string) *Zone {
	return &Zone{name: name}
}

// Name returns the domain this zone is authoritative for.
func (z *Zone) Name() string {
	return z.name
}

// RegisterZone implements Authority.
func (z *Zone) RegisterZone(ctx context.Context, domain string, child Authority) error {
	if child == nil {
		return fmt.Errorf("%w: no authority for %q", ErrInvalidDomain, domain)
	}
	label, rest, err := peel(domain)
	if err != nil {
		return err
	}
	if rest != "" {
		next, err := z.delegation(label)
		if err != nil {
			return err
		}
		return next.RegisterZone(ctx, rest, child)
	}
	if _, loaded := z.zones.LoadOrStore(label, child); loaded {
		return fmt.Errorf("%w: zone %s", ErrAlreadyRegistered, z.qualify(label))
	}
	return nil
}

// RegisterMailbox implements Authority.
func (z *Zone) RegisterMailbox(ctx context.Context, domain, address string) error {
	label, rest, err := peel(domain)
	if err != nil {
		return err
	}
	if rest != "" {
		next, err := z.delegation(label)
		if err != nil {
			return err
		}
		return next.RegisterMailbox(ctx, rest, address)
	}
	if _, loaded := z.mailboxes.LoadOrStore(label, address); loaded {
		return fmt.Errorf("%w: mailbox %s", ErrAlreadyRegistered, z.qualify(label))
	}
	return nil
}

// ChildAuthority implements Authority.
func (z *Zone) ChildAuthority(ctx context.Context, label string) (Authority, error) {
	v, ok := z.zones.Load(label)
	if !ok {
		return nil, fmt.Errorf("%w: zone %s", ErrNotFound, z.qualify(label))
	}
	return v.(Authority), nil
}

// Lookup implements Authority.
func (z *Zone) Lookup(ctx context.Context, label string) (string, error) {
	v, ok := z.mailboxes.Load(label)
	if !ok {
		return "", fmt.Errorf("%w: mailbox %s", ErrNotFound, z.qualify(label))
	}
	return v.(string), nil
}

// Zones lists the direct delegations sorted by label.
func (z *Zone) Zones() []ZoneDelegation {
	var out []ZoneDelegation
	z.zones.Range(func(k, v any) bool {
		out = append(out, ZoneDelegation{Label: k.(string), Authority: v.(Authority)})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Mailboxes lists the direct mailbox entries sorted by label.
func (z *Zone) Mailboxes() []MailboxEntry {
	var out []MailboxEntry
	z.mailboxes.Range(func(k, v any) bool {
		out = append(out, MailboxEntry{Label: k.(string), Address: v.(string)})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func (z *Zone) delegation(label string) (Authority, error) {
	v, ok := z.zones.Load(label)
	if !ok {
		return nil, fmt.Errorf("%w: zone %s is not delegated", ErrInvalidDomain, z.qualify(label))
	}
	return v.(Authority), nil
}

func (z *Zone) qualify(label string) string {
	if z.name == "" {
		return label
	}
	return label + "." + z.name
}

// peel splits domain into its rightmost label and the remaining prefix.
func peel(domain string) (label, rest string, err error) {
	labels, err := splitDomain(domain)
	if err != nil {
		return "", "", err
	}
	last := len(labels) - 1
	return labels[last], strings.Join(labels[:last], "."), nil
}

func splitDomain(domain string) ([]string, error) {
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrInvalidDomain)
	}
	labels := strings.Split(domain, ".")
	for _, l := range labels {
		if l == "" || strings.ContainsAny(l, " \t") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
		}
	}
	return labels, nil
}
