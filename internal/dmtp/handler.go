package dmtp

import (
	"context"

	"github.com/infodancer/dmaild/internal/server"
)

// Handler returns a connection handler that runs a fresh DMTP session on
// every accepted connection.
func Handler(cfg Config) server.ConnectionHandler {
	return func(ctx context.Context, conn *server.Connection) {
		server.Serve(ctx, conn, NewSession(cfg), "dmtp", cfg.Collector)
	}
}
