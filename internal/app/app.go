package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"mediavault/internal/config"
	"mediavault/internal/encryption"
	"mediavault/internal/ledger"
	"mediavault/internal/mirror"
	"mediavault/internal/policy"
	"mediavault/internal/shortener"
	"mediavault/internal/store"
	"mediavault/internal/transport"
	"mediavault/internal/vault"
)

// App is the application layer between the CLI and the Resolver.
// It constructs all dependencies from config and manages their lifecycle
// on Close. The transport is dialed lazily in Serve so that offline
// commands (reports) do not require a running broker.
type App struct {
	cfg       *config.Config
	store     vault.Store
	ledger    vault.Ledger
	policy    vault.AccessPolicy
	shortener vault.Shortener
	mirror    vault.Mirror
	transport *transport.AMQPTransport
	logger    vault.Logger
	logFile   *os.File
}

// NewApp creates a fully wired App from the given config.
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	runID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	st, err := store.NewStoreFromConfig(cfg.Store)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}

	window := time.Duration(cfg.Bot.SessionWindowHours) * time.Hour
	led, err := ledger.NewLedgerFromConfig(cfg.Ledger, window)
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating ledger: %w", err)
	}

	pol, err := policy.NewPolicyFromConfig(cfg.Policy, vault.RealClock{})
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating policy: %w", err)
	}

	short, err := shortener.NewShortenerFromConfig(cfg.Shortener)
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating shortener: %w", err)
	}

	var enc vault.Encryptor
	if cfg.Mirror.Encrypt {
		enc, err = encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			st.Close()
			logFile.Close()
			return nil, fmt.Errorf("creating encryptor: %w", err)
		}
	}

	mir, err := mirror.NewMirrorFromConfig(ctx, cfg.Mirror, enc)
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating mirror: %w", err)
	}

	return &App{
		cfg:       cfg,
		store:     st,
		ledger:    led,
		policy:    pol,
		shortener: short,
		mirror:    mir,
		logger:    logger,
		logFile:   logFile,
	}, nil
}

// resolverConfig maps the TOML bot profile onto the Resolver's config.
func resolverConfig(cfg *config.Config) vault.ResolverConfig {
	b := cfg.Bot
	return vault.ResolverConfig{
		BotHost:        b.Host,
		BotName:        b.Name,
		AdminChatID:    b.AdminChatID,
		ReportToAdmin:  b.ReportToAdmin,
		SessionWindow:  time.Duration(b.SessionWindowHours) * time.Hour,
		EphemeralTTL:   time.Duration(b.EphemeralTTLMinutes) * time.Minute,
		BatchLimit:     b.BatchLimit,
		SendTimeout:    time.Duration(b.SendTimeoutSeconds) * time.Second,
		ShortenTimeout: time.Duration(cfg.Shortener.TimeoutSeconds) * time.Second,
		ReportTopN:     b.ReportTopN,
	}
}

// Serve dials the transport and processes inbound events until ctx is
// cancelled or the consume loop fails. Each event is handled in its own
// goroutine; HandleEvent never panics out, so a bad event cannot take
// the loop down.
func (a *App) Serve(ctx context.Context) error {
	tr, err := transport.NewTransportFromConfig(ctx, a.cfg.Transport, vault.UUIDGenerator{}, a.logger)
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}
	a.transport = tr

	rcfg := resolverConfig(a.cfg)
	var sched *vault.DeleteScheduler
	if rcfg.EphemeralTTL > 0 {
		sched = vault.NewDeleteScheduler(tr, a.logger, rcfg.SendTimeout)
	}

	r := vault.NewResolver(rcfg, a.store, a.ledger, a.policy, tr, a.shortener, a.mirror,
		sched, a.logger, vault.RealClock{}, vault.UUIDGenerator{}, vault.RandomTokenGenerator{})

	a.logger.Info("serving", "queue", a.cfg.Transport.UpdatesQueue, "bot", a.cfg.Bot.Name)

	var wg sync.WaitGroup
	err = tr.Consume(ctx, func(ctx context.Context, ev vault.InboundEvent) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.HandleEvent(ctx, ev)
		}()
	})

	wg.Wait()
	r.Close()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Report writes the usage report to w.
func (a *App) Report(ctx context.Context, w io.Writer) error {
	r := vault.NewResolver(resolverConfig(a.cfg), a.store, a.ledger, a.policy, nil, nil, nil,
		nil, a.logger, vault.RealClock{}, vault.UUIDGenerator{}, vault.RandomTokenGenerator{})

	stats, err := r.Stats(ctx)
	if err != nil {
		return fmt.Errorf("collecting stats: %w", err)
	}

	_, err = fmt.Fprintln(w, vault.FormatStats(stats))
	return err
}

// Close releases all resources. Safe to call after a failed Serve.
func (a *App) Close() error {
	var firstErr error

	if a.transport != nil {
		a.transport.Close()
	}

	if c, ok := a.ledger.(io.Closer); ok {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing ledger: %w", err)
		}
	}

	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
