package stack

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/infodancer/dmaild/internal/config"
	"github.com/infodancer/dmaild/internal/naming"
)

// NewNameserver builds a naming authority. Without a zone it serves the
// root under the root id. With a zone it serves that domain and
// registers itself with the root once listening; a zone server whose
// registration fails stops.
func NewNameserver(opts Options) (*Stack, error) {
	opts.defaults()
	cfg := opts.Config
	s := newStack(opts)

	lc, err := listener(cfg, config.ProtocolNaming)
	if err != nil {
		return nil, err
	}

	ns := cfg.Nameserver
	name := ns.RootName()
	if !ns.IsRoot() {
		name = ns.Zone
	}

	srv, err := naming.NewServer(naming.NewZone(ns.Zone), naming.Endpoint{
		Address: lc.AdvertisedAddress(),
		Name:    name,
	}, opts.Logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, srv)
	s.Server.Handle(config.ProtocolNaming, srv.Handler())

	if !ns.IsRoot() {
		if ns.Registry == "" {
			_ = s.Close()
			return nil, fmt.Errorf("zone %s: no registry configured", ns.Zone)
		}
		root := s.rootRemote(ns)
		s.starters = append(s.starters, func(ctx context.Context) error {
			if err := root.RegisterZone(ctx, ns.Zone, srv.Authority()); err != nil {
				return fmt.Errorf("registering zone %s: %w", ns.Zone, err)
			}
			opts.Logger.Info("zone registered",
				slog.String("zone", ns.Zone),
				slog.String("registry", ns.Registry),
			)
			return nil
		})
	}

	opts.Logger.Info("nameserver configured",
		slog.String("name", name),
		slog.String("address", srv.Endpoint().Address),
		slog.Bool("root", ns.IsRoot()),
	)
	return s, nil
}
