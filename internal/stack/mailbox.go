package stack

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/infodancer/dmaild/internal/config"
	"github.com/infodancer/dmaild/internal/dmap"
	"github.com/infodancer/dmaild/internal/dmtp"
	"github.com/infodancer/dmaild/internal/logging"
	"github.com/infodancer/dmaild/internal/mail"
	"github.com/infodancer/dmaild/internal/mailbox"
	"github.com/infodancer/dmaild/internal/secure"
	"github.com/infodancer/dmaild/internal/users"
	"github.com/infodancer/msgstore"
)

// NewMailbox builds a mailbox server for cfg.Domain: a DMTP listener
// accepting mail for provisioned users and a DMAP listener serving their
// mailboxes. When a registry is configured the server registers its DMTP
// address with the root once it is listening.
func NewMailbox(opts Options) (*Stack, error) {
	opts.defaults()
	cfg := opts.Config
	s := newStack(opts)

	dmtpListener, err := listener(cfg, config.ProtocolDMTP)
	if err != nil {
		return nil, err
	}
	if _, err := listener(cfg, config.ProtocolDMAP); err != nil {
		return nil, err
	}

	var directory *users.Store
	if cfg.Users.File != "" {
		directory, err = users.LoadFile(cfg.Users.File)
		if err != nil {
			return nil, fmt.Errorf("loading users: %w", err)
		}
	} else {
		opts.Logger.Warn("no users file configured, mailbox accepts no local mail")
		directory = users.New(nil)
	}

	store, err := mailbox.Open(cfg.Mailbox, cfg.Domain)
	if err != nil {
		return nil, fmt.Errorf("opening mailbox store: %w", err)
	}
	s.closers = append(s.closers, store)

	dmapCfg := dmap.Config{
		ComponentID: cfg.ComponentID,
		Users:       directory,
		Store:       store,
		Collector:   opts.Collector,
	}
	keys := secure.NewKeyStore(cfg.Keys.PrivateDir, cfg.Keys.PublicDir)
	if err := keys.LoadPrivateKey(cfg.ComponentID); err != nil {
		opts.Logger.Warn("private key not available, secure sessions disabled",
			slog.String("component_id", cfg.ComponentID),
			slog.String("error", err.Error()),
		)
	} else {
		dmapCfg.Keys = keys
	}
	s.closers = append(s.closers, keys)

	policy := dmtp.LocalDomain{Domain: cfg.Domain, Users: directory}
	agent := mailbox.NewAgent(store, cfg.Domain, opts.Collector)

	s.Server.Handle(config.ProtocolDMTP, dmtp.Handler(dmtp.Config{
		Policy:    policy,
		OnMessage: storeLocal(policy, agent),
		Collector: opts.Collector,
	}))
	s.Server.Handle(config.ProtocolDMAP, dmap.Handler(dmapCfg))

	if root := s.rootRemote(cfg.Nameserver); root != nil {
		address := dmtpListener.AdvertisedAddress()
		s.starters = append(s.starters, func(ctx context.Context) error {
			if err := root.RegisterMailbox(ctx, cfg.Domain, address); err != nil {
				// The server stays useful through static transfer tables.
				opts.Logger.Error("mailbox registration failed",
					slog.String("domain", cfg.Domain),
					slog.String("registry", cfg.Nameserver.Registry),
					slog.String("error", err.Error()),
				)
				return nil
			}
			opts.Logger.Info("mailbox registered",
				slog.String("domain", cfg.Domain),
				slog.String("address", address),
			)
			return nil
		})
	}

	opts.Logger.Info("mailbox server configured",
		slog.String("domain", cfg.Domain),
		slog.String("backend", cfg.Mailbox.Backend),
		slog.Int("users", directory.Len()),
		slog.Bool("secure", dmapCfg.Keys != nil),
	)
	return s, nil
}

// storeLocal hands the local recipients of each accepted message to agent.
// Recipients of other domains are ignored.
func storeLocal(policy dmtp.LocalDomain, agent msgstore.DeliveryAgent) dmtp.MessageFunc {
	return func(ctx context.Context, msg *mail.Message) error {
		local := policy.Local(msg.Recipients)
		if len(local) == 0 {
			logging.FromContext(ctx).Debug("no local recipients",
				slog.String("from", msg.Sender),
			)
			return nil
		}
		env := msgstore.Envelope{
			From:         msg.Sender,
			Recipients:   local,
			ReceivedTime: time.Now(),
		}
		return agent.Deliver(ctx, env, bytes.NewReader(mail.Encode(msg)))
	}
}
