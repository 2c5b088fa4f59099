package naming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/infodancer/dmaild/internal/mail"
	"github.com/infodancer/dmaild/internal/metrics"
)

// DomainResolver maps a mail domain to its mailbox server endpoint.
type DomainResolver interface {
	Resolve(ctx context.Context, domain string) (mail.Domain, error)
}

// Resolver walks the naming tree from a root authority.
type Resolver struct {
	root      Authority
	collector metrics.Collector
}

// NewResolver creates a resolver starting at root. collector may be nil.
func NewResolver(root Authority, collector metrics.Collector) *Resolver {
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	return &Resolver{root: root, collector: collector}
}

// LookupAddress returns the mailbox server address registered for domain.
func (r *Resolver) LookupAddress(ctx context.Context, domain string) (string, error) {
	labels, err := splitDomain(domain)
	if err != nil {
		return "", err
	}

	auth := r.root
	for i := len(labels) - 1; i >= 1; i-- {
		next, err := auth.ChildAuthority(ctx, labels[i])
		release(auth, r.root)
		if err != nil {
			return "", err
		}
		auth = next
	}
	defer release(auth, r.root)
	return auth.Lookup(ctx, labels[0])
}

// release closes stubs obtained during a walk.
func release(a, root Authority) {
	if a == root {
		return
	}
	if c, ok := a.(io.Closer); ok {
		_ = c.Close()
	}
}

// Resolve implements DomainResolver.
func (r *Resolver) Resolve(ctx context.Context, domain string) (mail.Domain, error) {
	addr, err := r.LookupAddress(ctx, domain)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidDomain) {
			r.collector.LookupCompleted(metrics.ResultNotFound)
		} else {
			r.collector.LookupCompleted(metrics.ResultFailure)
		}
		return mail.Domain{}, err
	}
	r.collector.LookupCompleted(metrics.ResultSuccess)
	return mail.ParseDomain(domain, addr)
}

// StaticTable resolves domains from a fixed domain to host:port table.
type StaticTable map[string]string

// Resolve implements DomainResolver.
func (t StaticTable) Resolve(ctx context.Context, domain string) (mail.Domain, error) {
	addr, ok := t[strings.ToLower(domain)]
	if !ok {
		addr, ok = t[domain]
	}
	if !ok {
		return mail.Domain{}, fmt.Errorf("%w: %s", ErrNotFound, domain)
	}
	return mail.ParseDomain(domain, addr)
}

// Chain tries each resolver in order and returns the first success.
type Chain []DomainResolver

// Resolve implements DomainResolver. The error of the last resolver is
// returned when none succeeds.
func (c Chain) Resolve(ctx context.Context, domain string) (mail.Domain, error) {
	err := fmt.Errorf("%w: %s", ErrNotFound, domain)
	for _, r := range c {
		var d mail.Domain
		d, err = r.Resolve(ctx, domain)
		if err == nil {
			return d, nil
		}
		if ctx.Err() != nil {
			return mail.Domain{}, ctx.Err()
		}
	}
	return mail.Domain{}, err
}
