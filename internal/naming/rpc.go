package naming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"strings"
	"sync"

	"github.com/infodancer/dmaild/internal/server"
)

// Endpoint locates a remote authority: the nameserver's RPC address and
// the name its zone is registered under.
type Endpoint struct {
	Address string
	Name    string
}

func (e Endpoint) String() string {
	return e.Name + "@" + e.Address
}

// Addressable is implemented by authorities that can be reached remotely.
// Only addressable authorities may be delegated through a Remote.
type Addressable interface {
	Endpoint() Endpoint
}

// RegisterZoneArgs carries a remote zone registration.
type RegisterZoneArgs struct {
	Domain string
	Child  Endpoint
}

// RegisterMailboxArgs carries a remote mailbox registration.
type RegisterMailboxArgs struct {
	Domain  string
	Address string
}

// Server exposes a Zone over net/rpc.
type Server struct {
	zone     *Zone
	endpoint Endpoint
	rpc      *rpc.Server
	logger   *slog.Logger

	mu      sync.Mutex
	remotes []*Remote
}

// NewServer registers zone under endpoint.Name. endpoint.Address is the
// address peers dial to reach this server.
func NewServer(zone *Zone, endpoint Endpoint, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		zone:     zone,
		endpoint: endpoint,
		rpc:      rpc.NewServer(),
		logger:   logger,
	}
	if err := s.rpc.RegisterName(endpoint.Name, &service{srv: s}); err != nil {
		return nil, fmt.Errorf("registering %s: %w", endpoint.Name, err)
	}
	return s, nil
}

// Zone returns the served zone.
func (s *Server) Zone() *Zone {
	return s.zone
}

// Endpoint returns the endpoint peers use to reach the served zone.
func (s *Server) Endpoint() Endpoint {
	return s.endpoint
}

// Authority returns the served zone as an Authority that carries this
// server's endpoint, suitable for registering with a parent.
func (s *Server) Authority() Served {
	return Served{Zone: s.zone, endpoint: s.endpoint}
}

// Handler returns the connection handler serving RPC requests.
func (s *Server) Handler() server.ConnectionHandler {
	return func(ctx context.Context, conn *server.Connection) {
		conn.Logger().Debug("serving naming requests")
		s.rpc.ServeConn(conn.Underlying())
	}
}

// Close releases connections to remote child authorities.
func (s *Server) Close() error {
	s.mu.Lock()
	remotes := s.remotes
	s.remotes = nil
	s.mu.Unlock()

	var errs []error
	for _, r := range remotes {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}

func (s *Server) remote(ep Endpoint) *Remote {
	r := NewRemote(ep)
	s.mu.Lock()
	s.remotes = append(s.remotes, r)
	s.mu.Unlock()
	return r
}

// Served is a local zone that is also reachable at an endpoint.
type Served struct {
	*Zone
	endpoint Endpoint
}

// Endpoint implements Addressable.
func (s Served) Endpoint() Endpoint {
	return s.endpoint
}

// service is the receiver registered with net/rpc.
type service struct {
	srv *Server
}

func (svc *service) RegisterZone(args RegisterZoneArgs, reply *bool) error {
	child := svc.srv.remote(args.Child)
	err := svc.srv.zone.RegisterZone(context.Background(), args.Domain, child)
	if err != nil {
		_ = child.Close()
		return err
	}
	svc.logRegistration("zone", args.Domain, slog.String("authority", args.Child.String()))
	*reply = true
	return nil
}

func (svc *service) RegisterMailbox(args RegisterMailboxArgs, reply *bool) error {
	if err := svc.srv.zone.RegisterMailbox(context.Background(), args.Domain, args.Address); err != nil {
		return err
	}
	svc.logRegistration("mailbox", args.Domain, slog.String("address", args.Address))
	*reply = true
	return nil
}

// logRegistration logs an entry installed in this zone at info and a
// registration passed on to a child zone at debug.
func (svc *service) logRegistration(kind, domain string, attr slog.Attr) {
	if strings.Contains(domain, ".") {
		svc.srv.logger.Debug(kind+" registration forwarded",
			slog.String("domain", domain),
			attr,
		)
		return
	}
	svc.srv.logger.Info(kind+" registered",
		slog.String("domain", svc.srv.zone.qualify(domain)),
		attr,
	)
}

func (svc *service) ChildAuthority(label string, reply *Endpoint) error {
	child, err := svc.srv.zone.ChildAuthority(context.Background(), label)
	if err != nil {
		return err
	}
	a, ok := child.(Addressable)
	if !ok {
		return fmt.Errorf("zone %s is not reachable remotely", label)
	}
	*reply = a.Endpoint()
	return nil
}

func (svc *service) Lookup(label string, reply *string) error {
	addr, err := svc.srv.zone.Lookup(context.Background(), label)
	if err != nil {
		return err
	}
	*reply = addr
	return nil
}

func (svc *service) Zones(_ bool, reply *[]string) error {
	for _, d := range svc.srv.zone.Zones() {
		*reply = append(*reply, d.Label)
	}
	return nil
}

func (svc *service) Mailboxes(_ bool, reply *[]MailboxEntry) error {
	*reply = svc.srv.zone.Mailboxes()
	return nil
}

// Remote is an Authority reached over net/rpc. The connection is dialed
// on first use and redialed after it breaks.
type Remote struct {
	endpoint Endpoint
	dialer   *net.Dialer

	mu     sync.Mutex
	client *rpc.Client
}

// NewRemote creates a stub for the authority at endpoint.
func NewRemote(endpoint Endpoint) *Remote {
	return &Remote{endpoint: endpoint, dialer: &net.Dialer{}}
}

// Endpoint implements Addressable.
func (r *Remote) Endpoint() Endpoint {
	return r.endpoint
}

// RegisterZone implements Authority. child must be Addressable.
func (r *Remote) RegisterZone(ctx context.Context, domain string, child Authority) error {
	a, ok := child.(Addressable)
	if !ok {
		return fmt.Errorf("registering %s: child authority has no endpoint", domain)
	}
	var done bool
	return r.call(ctx, "RegisterZone", RegisterZoneArgs{Domain: domain, Child: a.Endpoint()}, &done)
}

// RegisterMailbox implements Authority.
func (r *Remote) RegisterMailbox(ctx context.Context, domain, address string) error {
	var done bool
	return r.call(ctx, "RegisterMailbox", RegisterMailboxArgs{Domain: domain, Address: address}, &done)
}

// ChildAuthority implements Authority.
func (r *Remote) ChildAuthority(ctx context.Context, label string) (Authority, error) {
	var ep Endpoint
	if err := r.call(ctx, "ChildAuthority", label, &ep); err != nil {
		return nil, err
	}
	return NewRemote(ep), nil
}

// Lookup implements Authority.
func (r *Remote) Lookup(ctx context.Context, label string) (string, error) {
	var addr string
	if err := r.call(ctx, "Lookup", label, &addr); err != nil {
		return "", err
	}
	return addr, nil
}

// Zones returns the labels delegated by the remote authority.
func (r *Remote) Zones(ctx context.Context) ([]string, error) {
	var labels []string
	err := r.call(ctx, "Zones", true, &labels)
	return labels, err
}

// Mailboxes returns the mailbox entries of the remote authority.
func (r *Remote) Mailboxes(ctx context.Context) ([]MailboxEntry, error) {
	var entries []MailboxEntry
	err := r.call(ctx, "Mailboxes", true, &entries)
	return entries, err
}

// Close closes the connection, if any.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

func (r *Remote) conn(ctx context.Context) (*rpc.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	c, err := r.dialer.DialContext(ctx, "tcp", r.endpoint.Address)
	if err != nil {
		return nil, fmt.Errorf("dialing nameserver %s: %w", r.endpoint, err)
	}
	r.client = rpc.NewClient(c)
	return r.client, nil
}

func (r *Remote) drop(c *rpc.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == c {
		_ = c.Close()
		r.client = nil
	}
}

func (r *Remote) call(ctx context.Context, method string, args, reply any) error {
	c, err := r.conn(ctx)
	if err != nil {
		return err
	}

	call := c.Go(r.endpoint.Name+"."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		r.drop(c)
		return ctx.Err()
	case <-call.Done:
	}

	if call.Error == nil {
		return nil
	}
	var serverErr rpc.ServerError
	if !errors.As(call.Error, &serverErr) {
		r.drop(c)
		return fmt.Errorf("%s %s: %w", method, r.endpoint, call.Error)
	}
	return remoteError(string(serverErr))
}

// remoteError restores the identity of naming errors returned by a peer.
func remoteError(msg string) error {
	for _, sentinel := range []error{ErrAlreadyRegistered, ErrInvalidDomain, ErrNotFound} {
		if rest, ok := strings.CutPrefix(msg, sentinel.Error()); ok {
			return fmt.Errorf("%w%s", sentinel, rest)
		}
	}
	return errors.New(msg)
}
