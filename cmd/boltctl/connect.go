package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/boltctl/internal/client"
	"github.com/danmuck/boltctl/internal/config"
	"github.com/danmuck/boltctl/internal/identity"
	"github.com/danmuck/boltctl/internal/observability"
	"github.com/danmuck/boltctl/internal/protocol/envelope"
	"github.com/danmuck/boltctl/internal/protocol/frame"
	"github.com/danmuck/boltctl/internal/resolve"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type connectOptions struct {
	host        string
	port        int
	user        string
	say         string
	metricsAddr string
}

func newConnectCmd(root *rootOptions) *cobra.Command {
	opts := &connectOptions{}
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect, announce the identity and print every event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, root, opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runConnect(ctx, cfg, opts, root.logger, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.host, "host", "", "override config host")
	flags.IntVar(&opts.port, "port", 0, "override config port")
	flags.StringVar(&opts.user, "user", "", "override identity username")
	flags.StringVar(&opts.say, "say", "", "send one msg after joining")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func loadConfig(cmd *cobra.Command, root *rootOptions, opts *connectOptions) (config.Config, error) {
	cfg, err := config.LoadFile(root.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return config.Config{}, err
	}
	if opts.host != "" {
		cfg.Host = opts.host
	}
	if cmd.Flags().Changed("port") {
		port := opts.port
		cfg.Port = &port
	}
	if opts.user != "" {
		cfg.Identity.Username = opts.user
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newResolver(cfg config.Config, logger zerolog.Logger) *resolve.Resolver {
	var lookup resolve.Lookup
	if cfg.Nameserver != "" {
		lookup = resolve.NewDNSLookup(cfg.Nameserver, cfg.ConnectTimeout)
	}
	return resolve.New(lookup, resolve.WithService(cfg.Service), resolve.WithLogger(logger))
}

func runConnect(ctx context.Context, cfg config.Config, opts *connectOptions, logger zerolog.Logger, out io.Writer) error {
	if opts.metricsAddr != "" {
		shutdown := serveMetrics(opts.metricsAddr, logger)
		defer shutdown()
	}

	keys := identity.NewKeyring(
		cfg.Identity.PublicKeyFile,
		cfg.Identity.PrivateKeyFile,
		identity.WithPassphrase(cfg.Identity.Passphrase),
	)
	c, err := client.New(client.Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		Username:       cfg.Identity.Username,
		ConnectTimeout: cfg.ConnectTimeout,
		WriteTimeout:   client.DefaultConfig().WriteTimeout,
		EventsBuffer:   cfg.EventsBuffer,
		Limits:         frame.Limits{MaxFrameBytes: cfg.MaxFrameBytes},
	}, newResolver(cfg, logger), keys, client.WithLogger(logger))
	if err != nil {
		return err
	}
	defer c.Close()

	printer := &eventPrinter{out: out}
	for _, tag := range envelope.Tags {
		if err := c.Subscribe(tag, printer.print); err != nil {
			return err
		}
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	logger.Info().Str("addr", c.Address().String()).Str("fingerprint", keys.Fingerprint()).Msg("boltctl: joined")

	if opts.say != "" {
		pubKey, err := keys.ReadPublicKey(ctx)
		if err != nil {
			return err
		}
		msg, err := envelope.Message(envelope.User{Nick: cfg.Identity.Username, PubKey: pubKey}, opts.say, time.Now())
		if err != nil {
			return err
		}
		if err := c.Send(ctx, msg); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ferr := <-c.Diagnostics():
			logger.Warn().Err(ferr).Str("frame", string(ferr.Frame)).Msg("boltctl: dropped frame")
		case err := <-c.Errors():
			return err
		case <-c.Done():
			select {
			case err := <-c.Errors():
				return err
			default:
				return nil
			}
		}
	}
}

type eventPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *eventPrinter) print(env envelope.Envelope) {
	line, err := json.Marshal(struct {
		Tag  envelope.Tag    `json:"tag"`
		At   time.Time       `json:"at"`
		Data json.RawMessage `json:"data"`
	}{env.Tag(), env.Time().UTC(), env.Data})
	if err != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, string(line))
}

func serveMetrics(addr string, logger zerolog.Logger) func() {
	observability.RegisterMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("boltctl: metrics server failed")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
