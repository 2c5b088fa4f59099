package stack

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/infodancer/dmaild/internal/config"
	"github.com/infodancer/dmaild/internal/delivery"
	"github.com/infodancer/dmaild/internal/dmtp"
	"github.com/infodancer/dmaild/internal/mail"
	"github.com/infodancer/dmaild/internal/monitoring"
	"github.com/infodancer/dmaild/internal/naming"
)

// drainTimeout bounds how long Close waits for queued deliveries.
const drainTimeout = 30 * time.Second

// NewTransfer builds a transfer server: a DMTP listener accepting mail
// for any domain and a delivery engine relaying it.
func NewTransfer(opts Options) (*Stack, error) {
	opts.defaults()
	cfg := opts.Config
	s := newStack(opts)

	lc, err := listener(cfg, config.ProtocolDMTP)
	if err != nil {
		return nil, err
	}

	resolver := s.resolver(cfg, opts)

	dialer, err := dmtp.NewDialer(cfg.Delivery.SocksProxy, cfg.Delivery.DialTimeoutDuration())
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	var reporter monitoring.Reporter = monitoring.NoopReporter{}
	if cfg.Monitoring.Address != "" {
		r, err := monitoring.NewUDPReporter(cfg.Monitoring.Address, relayIdentity(cfg.Hostname, lc), opts.Logger)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		reporter = r
		s.closers = append(s.closers, r)
		opts.Logger.Info("monitoring enabled", slog.String("address", cfg.Monitoring.Address))
	}

	engine := delivery.NewEngine(delivery.Config{
		Hostname: cfg.Hostname,
		Workers:  cfg.Delivery.Workers,
		Resolver: resolver,
		Relay: func(ctx context.Context, address string, msg *mail.Message) error {
			return dmtp.Relay(ctx, dialer, address, msg)
		},
		Reporter:  reporter,
		Collector: opts.Collector,
		Logger:    opts.Logger,
	})
	s.closers = append(s.closers, closerFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		return engine.Close(ctx)
	}))

	s.Server.Handle(config.ProtocolDMTP, dmtp.Handler(dmtp.Config{
		Policy:    dmtp.AcceptAll{Domain: cfg.Domain},
		OnMessage: engine.Submit,
		Collector: opts.Collector,
	}))

	opts.Logger.Info("transfer server configured",
		slog.String("hostname", cfg.Hostname),
		slog.Int("workers", cfg.Delivery.Workers),
		slog.Bool("registry", cfg.Nameserver.Registry != ""),
		slog.Int("static_domains", len(cfg.Delivery.Domains)),
	)
	return s, nil
}

// resolver resolves through the naming root when one is configured and
// falls back to the static domain table.
func (s *Stack) resolver(cfg config.Config, opts Options) naming.DomainResolver {
	var chain naming.Chain
	if root := s.rootRemote(cfg.Nameserver); root != nil {
		chain = append(chain, naming.NewResolver(root, opts.Collector))
	}
	if len(cfg.Delivery.Domains) > 0 {
		table := make(naming.StaticTable, len(cfg.Delivery.Domains))
		for name, addr := range cfg.Delivery.Domains {
			table[strings.ToLower(name)] = addr
		}
		chain = append(chain, table)
	}
	return chain
}

// relayIdentity is the "<host>:<port>" a transfer server reports itself as.
func relayIdentity(hostname string, lc config.ListenerConfig) string {
	_, port, err := net.SplitHostPort(lc.AdvertisedAddress())
	if err != nil {
		return hostname
	}
	return net.JoinHostPort(hostname, port)
}
