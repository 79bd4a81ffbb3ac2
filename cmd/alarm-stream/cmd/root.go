package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-stream/internal/config"
	"github.com/oshokin/alarm-stream/internal/service/client"
	"github.com/oshokin/alarm-stream/internal/service/server"
	"github.com/oshokin/alarm-stream/internal/version"
)

// errConfigExists is returned by init-config when the target file exists.
var errConfigExists = errors.New("configuration file already exists, use --force to overwrite")

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides the configured log level.
	logLevel string
	// force allows init-config to overwrite an existing file.
	force bool
	// groups lists the groups the watch command subscribes to.
	groups []string
	// retryInterval is the watch reconnect delay.
	retryInterval time.Duration

	// rootCmd is the base command; it only groups subcommands.
	rootCmd = &cobra.Command{
		Use:          "alarm-stream",
		Short:        "Stream alarm state changes to subscriber groups.",
		SilenceUsage: true,
	}

	// serveCmd runs the server.
	serveCmd = &cobra.Command{
		Use:   "serve [listen-address]",
		Short: "Run the alarm stream server.",
		Long: `Starts the alarm stream server. gRPC and HTTP share one listening address.

Alarm records are accepted on POST /core and, when configured, from a Kafka topic.
Every change is delivered to the subscribers of the groups the record routes to:
the global group, the group named after its core_id and any matching rule groups.
Subscribers connect with GET /stream (server-sent events) or the gRPC
alarmstream.v1.AlarmStream/Subscribe method.

The listen address argument overrides the configuration (e.g. :9090, 0.0.0.0:8080).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				LogLevel:      logLevel,
			}

			return server.Run(ctx, options)
		},
	}

	// watchCmd prints the payloads of subscribed groups.
	watchCmd = &cobra.Command{
		Use:   "watch <server-address>",
		Short: "Print alarm payloads of subscribed groups as JSON lines.",
		Long: `Subscribes to groups over gRPC and prints every payload as one JSON line.
The snapshot of matching records comes first, live changes follow.
Without --group the server's global group is used. The command reconnects
after transient failures until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return client.Run(ctx, &client.Options{
				ServerAddress: args[0],
				Groups:        groups,
				Output:        cmd.OutOrStdout(),
				RetryInterval: retryInterval,
			})
		},
	}

	// initConfigCmd writes a configuration file with every default filled in.
	initConfigCmd = &cobra.Command{
		Use:   "init-config",
		Short: "Write a configuration file with default settings.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultConfigFilename
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%w: %s", errConfigExists, path)
			}

			if err := config.Save(path, config.Default()); err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Configuration written to", path)

			return nil
		},
	}
)

// Execute runs the alarm-stream CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	serveCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "log level override (debug, info, warn, error)")
	initConfigCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	watchCmd.Flags().StringSliceVarP(&groups, "group", "g", nil, "group to subscribe to (repeatable)")
	watchCmd.Flags().DurationVar(&retryInterval, "retry-interval", time.Second, "delay between reconnect attempts")

	rootCmd.AddCommand(serveCmd, watchCmd, initConfigCmd)
}
