package dmtp

import (
	"strings"

	"github.com/infodancer/dmaild/internal/wire"
)

// RecipientPolicy decides, at "to" time, whether a recipient is accepted
// and whether it is local to this server.
type RecipientPolicy interface {
	// Check returns whether addr is local. A non-nil error is the
	// protocol error sent to the client.
	Check(addr string) (local bool, err error)
}

// UserDirectory reports whether a user is provisioned.
type UserDirectory interface {
	Exists(name string) bool
}

// AcceptAll accepts every recipient. Recipients in Domain count as local.
// It is the policy of a transfer server.
type AcceptAll struct {
	Domain string
}

// Check implements RecipientPolicy.
func (p AcceptAll) Check(addr string) (bool, error) {
	return p.Domain != "" && hasDomain(addr, p.Domain), nil
}

// LocalDomain is the policy of a mailbox server: a recipient is local iff
// it is in Domain and names a provisioned user. Unknown users in Domain
// are rejected; recipients of other domains are accepted but not local.
type LocalDomain struct {
	Domain string
	Users  UserDirectory
}

// Check implements RecipientPolicy.
func (p LocalDomain) Check(addr string) (bool, error) {
	if !hasDomain(addr, p.Domain) {
		return false, nil
	}
	if p.Users == nil || !p.Users.Exists(localPart(addr, p.Domain)) {
		return false, wire.Errorf("unknown recipient %s", addr)
	}
	return true, nil
}

// Local returns the recipients in rcpts that belong to this server's domain.
func (p LocalDomain) Local(rcpts []string) []string {
	var out []string
	for _, r := range rcpts {
		if hasDomain(r, p.Domain) {
			out = append(out, r)
		}
	}
	return out
}

func hasDomain(addr, domain string) bool {
	return strings.HasSuffix(strings.ToLower(addr), "@"+strings.ToLower(domain))
}

func localPart(addr, domain string) string {
	return addr[:len(addr)-len(domain)-1]
}
