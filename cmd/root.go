package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tanq16/splitfetch/internal/checkpoint"
	"github.com/tanq16/splitfetch/internal/config"
	"github.com/tanq16/splitfetch/internal/engine"
	"github.com/tanq16/splitfetch/internal/output"
	"github.com/tanq16/splitfetch/internal/scheduler"
	"github.com/tanq16/splitfetch/internal/utils"
)

var SplitfetchVersion = "dev"

var (
	configFile string
	envFile    string
	v          = viper.New()
	cfg        *config.Config
	store      *checkpoint.Store
	stopServer func()
)

// flag name -> config key
var boundFlags = map[string]string{
	"timeout":            "timeout",
	"keep-alive-timeout": "keep_alive_timeout",
	"user-agent":         "user_agent",
	"proxy":              "proxy",
	"proxy-username":     "proxy_username",
	"proxy-password":     "proxy_password",
	"header":             "headers",
	"resolve":            "resolve",
	"high-thread-mode":   "high_thread_mode",
	"bearer":             "bearer",
	"s3-profile":         "s3_profile",
	"connections":        "connections",
	"workers":            "workers",
	"limit":              "limit",
	"checkpoint-dir":     "checkpoint_dir",
	"metrics-addr":       "metrics_addr",
	"pin-bundle":         "pin_bundle",
	"pin":                "pins",
	"debug":              "debug",
}

var rootCmd = &cobra.Command{
	Use:           "splitfetch",
	Short:         "Splitfetch downloads files over parallel byte ranges",
	Version:       SplitfetchVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v, configFile, envFile)
		if err != nil {
			return err
		}
		utils.InitLogger(cfg.Debug)
		if cfg.MetricsAddr != "" {
			stopServer, err = serveMetrics(cfg.MetricsAddr)
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		output.PrintError(err.Error())
		os.Exit(1)
	}
}

// run executes one command line and releases what it opened, whether or not
// the command failed.
func run(ctx context.Context, args []string) error {
	defer cleanup()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func cleanup() {
	if store != nil {
		if err := store.Close(); err != nil {
			log.Warn().Str("op", "cmd").Err(err).Msg("closing checkpoint store")
		}
		store = nil
	}
	if stopServer != nil {
		stopServer()
		stopServer = nil
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default splitfetch.yaml in . or ~/.config/splitfetch)")
	flags.StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading SPLITFETCH_* variables")
	flags.DurationP("timeout", "t", 3*time.Minute, "Connection timeout (eg. 5s, 10m)")
	flags.DurationP("keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	flags.StringP("user-agent", "a", utils.DefaultUserAgent, "User agent")
	flags.StringP("proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	flags.String("proxy-username", "", "Proxy username (if not provided in proxy URL)")
	flags.String("proxy-password", "", "Proxy password (if not provided in proxy URL)")
	flags.StringArrayP("header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	flags.StringArray("resolve", []string{}, "Dial host:port at addr instead (host:port:addr); can be specified multiple times")
	flags.Bool("high-thread-mode", false, "Enlarge socket buffers for many concurrent connections")
	flags.String("bearer", "", "Bearer token sent with every HTTP request")
	flags.String("s3-profile", "", "AWS shared config profile for s3:// URLs")
	flags.IntP("connections", "c", utils.DefaultStreamFragments, "Number of fragments per download")
	flags.IntP("workers", "w", 4, "Number of files downloaded in parallel by batch")
	flags.Int64("limit", 0, "Bandwidth limit in bytes per second shared by all transfers (0 for none)")
	flags.String("checkpoint-dir", utils.CheckpointDir, "Directory of the fragment checkpoint store (empty disables resume)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (eg. 127.0.0.1:9090)")
	flags.String("pin-bundle", ".", "Directory holding reference certificates for --pin")
	flags.StringArray("pin", []string{}, "Pin a host to a reference certificate (host=file); can be specified multiple times")
	flags.Bool("debug", false, "Enable debug logging")

	for name, key := range boundFlags {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}

	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newCleanCmd())
}

// newRunner builds the engine from the loaded config and wires it to a
// terminal display.
func newRunner() (*scheduler.Runner, *output.Manager, error) {
	httpCfg, err := cfg.HTTPClientConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.CheckpointDir != "" {
		store, err = checkpoint.Open(cfg.CheckpointDir)
		if err != nil {
			return nil, nil, err
		}
	}
	coordinator := engine.New(engine.Options{
		HTTP:           httpCfg,
		S3Profile:      cfg.S3Profile,
		Checkpoints:    store,
		BandwidthLimit: cfg.Limit,
		Workers:        cfg.Workers,
	})
	policy, err := cfg.PinningPolicy()
	if err != nil {
		return nil, nil, err
	}
	if !policy.Empty() {
		if err := coordinator.ConfigurePinning(policy); err != nil {
			return nil, nil, err
		}
	}
	log.Debug().Str("op", "cmd").Int("connections", cfg.Connections).Int("workers", cfg.Workers).Int("pins", policy.Len()).Msg("engine ready")
	out := output.NewManager(os.Stdout)
	return scheduler.NewRunner(coordinator, out, cfg.Connections), out, nil
}
