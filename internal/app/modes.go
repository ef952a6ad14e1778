package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/batchsettle/internal/domain"
	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/alanyoungcy/batchsettle/internal/server"
	"github.com/alanyoungcy/batchsettle/internal/server/handler"
	"github.com/alanyoungcy/batchsettle/internal/server/ws"
	"github.com/alanyoungcy/batchsettle/internal/signing"
)

// ServerMode serves the HTTP API and the WebSocket event hub, plus the
// archiver when archive.enabled is set.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	if !a.cfg.Server.Enabled {
		return errors.New("app: server mode with server.enabled = false")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	if deps.Archiver != nil {
		a.startArchiver(ctx, g, deps.Archiver)
	}
	return g.Wait()
}

// ArchiveMode only moves old receipts to object storage on a fixed interval.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiver(ctx, g, deps.Archiver)
	return g.Wait()
}

// FullMode runs the API (unless disabled) and the archiver together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	a.startArchiver(ctx, g, deps.Archiver)
	return g.Wait()
}

// chainInfo describes the deployment for /api/health and the hub's status
// frame.
func chainInfo(chainID uint64, deps *Dependencies) handler.ChainInfo {
	s := deps.Network.Settlement
	return handler.ChainInfo{
		ChainID:         chainID,
		Settlement:      s.Address(),
		Relayer:         s.RelayerAddress(),
		DomainSeparator: s.DomainSeparator(),
	}
}

// startHTTPServer registers the API and, with a bus, the WebSocket hub on
// g. The server shuts down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	info := chainInfo(a.cfg.Chain.ChainID, deps)

	// The hub needs the Redis SignalBus.
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Info:      info,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "HTTP server: /ws disabled (no signal bus without redis)")
	}

	srv := server.NewServer(server.Config{
		Host:            a.cfg.Server.Host,
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKeys:         a.cfg.Server.APIKeys,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(info, deps.Checks, a.logger),
		Settlement: handler.NewSettlementHandler(deps.Service, a.logger),
		Orders:     handler.NewOrderHandler(deps.Service, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	if len(a.cfg.Server.APIKeys) == 0 {
		a.logger.WarnContext(ctx, "HTTP server: no api_keys configured, authentication disabled")
	}

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiver runs one archive pass immediately and then one per
// archive.interval. A failed pass is logged and retried on the next tick.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, archiver domain.Archiver) {
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	interval := a.cfg.Archive.Interval.Duration

	g.Go(func() error {
		runOnce := func() {
			cutoff := time.Now().UTC().Add(-retention)
			n, err := archiver.ArchiveReceipts(ctx, cutoff)
			if err != nil {
				if ctx.Err() == nil {
					a.logger.ErrorContext(ctx, "archive: pass failed",
						slog.Time("cutoff", cutoff),
						slog.String("error", err.Error()),
					)
				}
				return
			}
			a.logger.InfoContext(ctx, "archive: pass complete",
				slog.Time("cutoff", cutoff),
				slog.Int64("archived", n),
			)
		}

		runOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})

	a.logger.InfoContext(ctx, "archiver started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)
}

// SignedOrder is what sign mode prints: a trade ready to be placed in a
// batch, and the UID it will be tracked under.
type SignedOrder struct {
	UID   order.UID           `json:"uid"`
	Owner common.Address      `json:"owner"`
	Trade domain.TradeRequest `json:"trade"`
}

// SignMode signs the order in Options.OrderFile with the configured wallet
// for the configured settlement domain and prints a SignedOrder.
func (a *App) SignMode(ctx context.Context) error {
	signer, err := signing.LoadSigner(signing.KeySource{
		RawPrivateKey: a.cfg.Wallet.PrivateKey,
		KeyFile:       a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:   a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("app: sign: %w", err)
	}

	var raw []byte
	switch a.opts.OrderFile {
	case "":
		return errors.New("app: sign: no order file given")
	case "-":
		raw, err = io.ReadAll(a.opts.Stdin)
	default:
		raw, err = os.ReadFile(a.opts.OrderFile)
	}
	if err != nil {
		return fmt.Errorf("app: sign: read order: %w", err)
	}

	var o order.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return fmt.Errorf("app: sign: decode order: %w", err)
	}
	scheme, err := order.ParseSigningScheme(a.opts.Scheme)
	if err != nil {
		return fmt.Errorf("app: sign: %w", err)
	}

	c := a.cfg.Chain
	domainSep := order.DomainSeparator(c.DomainName, c.DomainVersion, new(big.Int).SetUint64(c.ChainID), c.Settlement)
	sig, err := signer.SignOrder(domainSep, &o, scheme)
	if err != nil {
		return fmt.Errorf("app: sign: %w", err)
	}

	out := SignedOrder{
		UID:   order.ComputeUID(domainSep, &o, signer.Address()),
		Owner: signer.Address(),
		Trade: domain.TradeRequest{Order: o, SigningScheme: scheme, Signature: sig},
	}
	a.logger.InfoContext(ctx, "order signed",
		slog.String("uid", out.UID.Hex()),
		slog.String("owner", out.Owner.Hex()),
		slog.String("scheme", scheme.String()),
	)

	enc := json.NewEncoder(a.opts.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
