package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/internal/app"
	"github.com/bft-labs/peerlink/internal/cliconfig"
	"github.com/bft-labs/peerlink/internal/domain"
	"github.com/bft-labs/peerlink/internal/exchange"
	"github.com/bft-labs/peerlink/internal/metrics"
	"github.com/bft-labs/peerlink/internal/session"
	"github.com/bft-labs/peerlink/internal/transport"
	"github.com/bft-labs/peerlink/pkg/log"
	"github.com/bft-labs/peerlink/plugins/configwatcher"
)

const helpDescription = `
Exchange enquiries with peers over tcp or websocket links.

  serve    answer every Enquiry with Ack
  connect  send an Enquiry and report the outcome
  group    keep connections to a named set of peers and enquire of each

Configure via $HOME/.peerlink/config.toml, PEERLINK_* variables, or flags.
Flags win over the environment, which wins over the file.
`

var exampleUsage = strings.TrimSpace(`
  peerlink serve --address 127.0.0.1:5011
  peerlink connect --address 127.0.0.1:5011 --deadline 2s
  peerlink connect --variant repeat --repeat 1s
  peerlink group --member a=127.0.0.1:5011 --member b=ws://127.0.0.1:5012/peerlink
`)

var errFailed = errors.New("exchange failed")

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// builder turns a validated configuration into the root unit's body.
type builder func(cfg cliconfig.Config, scfg session.Config) (actor.Body, error)

type command struct {
	cfg     cliconfig.Config
	cfgPath string
	members []string
}

func main() {
	c := &command{cfg: cliconfig.DefaultConfig()}

	root := &cobra.Command{
		Use:           "peerlink",
		Short:         "Exchange enquiries with peers over reconnecting links",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgPath, "config", "", "path to config file (default: $HOME/.peerlink/config.toml)")
	pf.StringVar(&c.cfg.Address, "address", c.cfg.Address, "endpoint to listen on or dial (host:port, ws://host:port/path)")
	pf.StringVar(&c.cfg.LogLevel, "log-level", c.cfg.LogLevel, "log level (debug, info, warn, error)")
	pf.StringVar(&c.cfg.MetricsAddr, "metrics-addr", c.cfg.MetricsAddr, "serve prometheus metrics on this address (disabled when empty)")
	pf.DurationVar(&c.cfg.Deadline, "deadline", c.cfg.Deadline, "how long an exchange waits for a reply")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Listen and answer enquiries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "server", serveBody)
		},
	}
	serve.Flags().StringVar(&c.cfg.Variant, "variant", c.cfg.Variant, "server variant: fsm or session")

	connect := &cobra.Command{
		Use:   "connect",
		Short: "Dial a peer and exchange an enquiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "client", connectBody)
		},
	}
	cf := connect.Flags()
	cf.StringVar(&c.cfg.Variant, "variant", c.cfg.Variant, "client variant: fsm, session, ask, retry or repeat")
	cf.DurationVar(&c.cfg.Repeat, "repeat", c.cfg.Repeat, "pause between exchanges in repeat mode")
	addPolicyFlags(cf, &c.cfg)

	group := &cobra.Command{
		Use:   "group",
		Short: "Keep links to a named set of peers and enquire of each",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "group", groupBody)
		},
	}
	gf := group.Flags()
	gf.StringArrayVar(&c.members, "member", nil, "group member as name=address (repeatable)")
	gf.DurationVar(&c.cfg.ReadyDeadline, "ready-deadline", c.cfg.ReadyDeadline, "how long to wait for every member to become usable")
	gf.DurationVar(&c.cfg.GroupDeadline, "group-deadline", c.cfg.GroupDeadline, "formation deadline enforced by the group itself (0 disables)")
	gf.BoolVar(&c.cfg.Strict, "strict", c.cfg.Strict, "dissolve the group when the formation deadline passes")
	gf.BoolVar(&c.cfg.Session, "session", c.cfg.Session, "run the exchanges in a session unit owned by the group")
	gf.BoolVar(&c.cfg.Watch, "watch", c.cfg.Watch, "rebuild the group when the config file changes")
	addPolicyFlags(gf, &c.cfg)

	root.AddCommand(serve, connect, group)

	if err := root.Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintln(os.Stderr, "peerlink:", err)
		}
		os.Exit(1)
	}
}

func addPolicyFlags(fs *pflag.FlagSet, cfg *cliconfig.Config) {
	fs.DurationVar(&cfg.BackoffInitial, "backoff-initial", cfg.BackoffInitial, "first reconnect delay")
	fs.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "largest reconnect delay")
	fs.Float64Var(&cfg.BackoffMultiplier, "backoff-multiplier", cfg.BackoffMultiplier, "growth factor between reconnect delays")
	fs.Float64Var(&cfg.BackoffJitter, "backoff-jitter", cfg.BackoffJitter, "fraction by which each delay is randomly raised or lowered (0.2 means up to 20% either way)")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "connection attempts before giving up (0 retries forever)")
	fs.StringVar(&cfg.OnLoss, "on-loss", cfg.OnLoss, "after a usable link is lost: resume or halt")
}

// load applies the config file, then PEERLINK_* variables, then flags.
func (c *command) load(cmd *cobra.Command) (cliconfig.Config, string, error) {
	cfg := c.cfg

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if changed["member"] {
		members, err := cliconfig.ParseMembers(c.members)
		if err != nil {
			return cfg, "", err
		}
		cfg.Members = members
	}

	cfgFile := c.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}
	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return cfg, "", fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
			return cfg, "", err
		}
	} else {
		cfgFile = ""
	}

	if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
		return cfg, "", err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, "", err
	}
	return cfg, cfgFile, nil
}

func (c *command) run(cmd *cobra.Command, name string, build builder) error {
	cfg, cfgFile, err := c.load(cmd)
	if err != nil {
		return err
	}

	logger := log.NewZerologAdapterWithLevel(cfg.LogLevel)
	logger.Info("configuration",
		log.String("command", cmd.Name()),
		log.String("address", cfg.Address),
		log.String("variant", cfg.Variant),
		log.Duration("deadline", cfg.Deadline),
		log.Int("members", len(cfg.Members)),
	)

	m := metrics.New()
	rt := actor.NewRuntime(actor.WithLogger(logger))
	defer rt.Close()
	tr := transport.New(rt, transport.Config{Logger: logger, Metrics: m})
	defer tr.Close()

	start := func(cfg cliconfig.Config) (actor.Body, error) {
		scfg, err := cfg.SessionConfig(tr)
		if err != nil {
			return nil, err
		}
		scfg.Metrics = m
		return build(cfg, scfg)
	}
	body, err := start(cfg)
	if err != nil {
		return err
	}

	runner := app.NewRunner(rt, nil)
	runner.OnMessage(func(msg actor.Message) {
		if msg.Kind == actor.Outcome {
			fmt.Fprintln(cmd.OutOrStdout(), msg.Body)
		}
	})
	if err := runner.Start(name, body); err != nil {
		return err
	}

	var watcher *configwatcher.Watcher
	if cfg.Watch {
		if cfgFile == "" {
			_ = runner.Stop()
			return errors.New("--watch needs a config file")
		}
		watcher = configwatcher.New(cfgFile, configwatcher.WithLogger(logger))
	}

	sigCtx, stopSignals := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("serving metrics", log.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), app.ShutdownTimeout)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	var changes <-chan struct{}
	if watcher != nil {
		changes = watcher.Changes()
		g.Go(func() error { return watcher.Run(gctx) })
	}

	interrupted := false
	g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-gctx.Done():
				interrupted = sigCtx.Err() != nil
				if runner.State() == app.StateRunning {
					logger.Info("received signal, stopping")
					return runner.Stop()
				}
				return nil
			case <-runner.Done():
				return nil
			case <-changes:
				next, _, err := c.load(cmd)
				if err != nil {
					logger.Warn("config reload rejected", log.Err(err))
					continue
				}
				body, err := start(next)
				if err != nil {
					logger.Warn("config reload rejected", log.Err(err))
					continue
				}
				logger.Info("config changed, restarting", log.Int("members", len(next.Members)))
				if err := runner.Stop(); err != nil && !errors.Is(err, domain.ErrNotRunning) {
					logger.Warn("stop before restart", log.Err(err))
				}
				if err := runner.Start(name, body); err != nil {
					return err
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}

	v := runner.Value()
	fmt.Fprintln(cmd.OutOrStdout(), v)
	if interrupted || exchange.IsSuccess(v) {
		return nil
	}
	if err, ok := v.(error); ok {
		logger.Error(name+" failed", log.Err(err))
	}
	return errFailed
}

func serveBody(cfg cliconfig.Config, scfg session.Config) (actor.Body, error) {
	switch cfg.Variant {
	case "", "fsm":
		return session.Server(scfg)
	case "session":
		return session.SessionServer(scfg)
	default:
		return nil, fmt.Errorf("unknown server variant %q", cfg.Variant)
	}
}

func connectBody(cfg cliconfig.Config, scfg session.Config) (actor.Body, error) {
	switch cfg.Variant {
	case "", "fsm":
		return session.Client(scfg)
	case "session":
		return session.SessionClient(scfg)
	case "ask":
		return session.AskClient(scfg)
	case "retry":
		return session.RetryClient(scfg)
	case "repeat":
		if scfg.Repeat == 0 {
			scfg.Repeat = time.Second
		}
		return session.Client(scfg)
	default:
		return nil, fmt.Errorf("unknown client variant %q", cfg.Variant)
	}
}

func groupBody(cfg cliconfig.Config, scfg session.Config) (actor.Body, error) {
	opts, err := cfg.GroupOptions()
	if err != nil {
		return nil, err
	}
	if cfg.Session {
		return session.GroupSession(scfg, opts)
	}
	return session.GroupClient(scfg, opts)
}
