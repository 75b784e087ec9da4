// Command conflux manages configured service connections: validating the
// services document, checking connectivity, running remote commands and
// holding port forwards open.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/conflux/pkg/config"
	"github.com/ajitpratap0/conflux/pkg/errors"
	"github.com/ajitpratap0/conflux/pkg/logger"
	"github.com/ajitpratap0/conflux/pkg/ports"
	"github.com/ajitpratap0/conflux/pkg/service/base"
	"github.com/ajitpratap0/conflux/pkg/service/core"
	"github.com/ajitpratap0/conflux/pkg/service/protocols"
	"github.com/ajitpratap0/conflux/pkg/service/registry"
)

// Populated at build time via -ldflags
var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	servicesPath string
	envFile      string
	logLevel     string
	metricsAddr  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "conflux",
		Short: "Unified access to configured services",
		Long: `Conflux gives every configured service (databases, filesystems,
caches, REST APIs) one lazy connection lifecycle, routed through remote
gateways where configured.`,
		PersistentPreRunE: setup,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVarP(&servicesPath, "services", "s", "services.yaml", "Path to the services document")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before config substitution")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.AddCommand(
		versionCmd(),
		protocolsCmd(),
		validateCmd(),
		checkCmd(),
		execCmd(),
		forwardCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	// Missing env file is fine; an unreadable one is not
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}
	if err := logger.Init(logger.Config{Level: logLevel, Encoding: "console"}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	protocols.RegisterBuiltins()

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}
	return nil
}

// loadRegistry builds a service registry from the services document
func loadRegistry() (*registry.ServiceRegistry, *config.Document, error) {
	doc, err := config.Load(servicesPath)
	if err != nil {
		return nil, nil, err
	}
	reg := registry.New()
	if err := reg.LoadFromConfig(doc); err != nil {
		return nil, nil, err
	}
	return reg, doc, nil
}

// signalContext cancels on SIGINT/SIGTERM and drains open connections on
// the way out
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx, func() {
		cancel()
		base.ShutdownAll()
		_ = logger.Sync()
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("conflux %s (built %s)\n", version, buildTime)
		},
	}
}

func protocolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "protocols",
		Short: "List registered protocols",
		Run: func(cmd *cobra.Command, args []string) {
			for _, proto := range registry.ListProtocols() {
				reg, err := registry.ResolveProtocol(proto)
				if err != nil {
					continue
				}
				fmt.Printf("%-20s %-12s %s\n", proto, reg.Kind, reg.Impl)
			}
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the services document",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := config.Load(servicesPath)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d services OK\n", servicesPath, doc.Count())
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [service...]",
		Short: "Connect to services and report health",
		Long:  "Connects to the named services (or all configured services) and reports whether each one answers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cleanup := signalContext()
			defer cleanup()

			reg, _, err := loadRegistry()
			if err != nil {
				return err
			}

			names := args
			if len(names) == 0 {
				names = reg.Names()
			}

			failed := 0
			for _, name := range names {
				conn, err := reg.Lookup(name, core.KindAny)
				if err != nil {
					return err
				}
				svcCtx := context.WithValue(ctx, logger.ServiceKey, name)
				svcCtx = context.WithValue(svcCtx, logger.ProtocolKey, conn.Protocol())
				log := logger.WithContext(svcCtx)
				log.Debug("checking service")
				if err := conn.Connect(svcCtx); err != nil {
					failed++
					log.Warn("service check failed", zap.Error(err))
					fmt.Printf("%-24s FAIL  %v\n", name, err)
					continue
				}
				fmt.Printf("%-24s OK    %s\n", name, conn.Protocol())
			}
			if failed > 0 {
				return errors.Newf(errors.ErrorTypeConnection, "%d of %d services failed", failed, len(names))
			}
			return nil
		},
	}
}

func execCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "exec <remote> <command>",
		Short: "Run a command on a remote transport",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cleanup := signalContext()
			defer cleanup()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			reg, _, err := loadRegistry()
			if err != nil {
				return err
			}
			conn, err := reg.Lookup(args[0], core.KindRemote)
			if err != nil {
				return err
			}
			transport, ok := conn.(core.RemoteTransport)
			if !ok {
				return errors.Newf(errors.ErrorTypeCapability,
					"service %q does not support command execution", args[0])
			}

			command := args[1]
			for _, arg := range args[2:] {
				command += " " + arg
			}
			ctx = context.WithValue(ctx, logger.RemoteKey, args[0])
			logger.WithContext(ctx).Debug("executing remote command",
				zap.String("command", command))
			result, err := transport.Execute(ctx, command)
			if err != nil {
				return err
			}
			fmt.Print(result.Stdout)
			if result.Stderr != "" {
				fmt.Fprint(os.Stderr, result.Stderr)
			}
			if !result.Success() {
				os.Exit(result.ExitCode)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort the command after this duration")
	return cmd
}

func forwardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forward <remote> <host:port> [local-port]",
		Short: "Hold a port forward open through a remote transport",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cleanup := signalContext()
			defer cleanup()

			reg, _, err := loadRegistry()
			if err != nil {
				return err
			}
			conn, err := reg.Lookup(args[0], core.KindRemote)
			if err != nil {
				return err
			}
			transport, ok := conn.(core.RemoteTransport)
			if !ok {
				return errors.Newf(errors.ErrorTypeCapability,
					"service %q does not support port forwarding", args[0])
			}

			host, remotePort, err := ports.Split(args[1])
			if err != nil {
				return err
			}
			localPort := 0
			if len(args) == 3 {
				localPort, err = strconv.Atoi(args[2])
				if err != nil {
					return errors.Wrap(err, errors.ErrorTypeValidation, "invalid local port")
				}
			}

			bound, err := transport.PortForward(host, remotePort, localPort)
			if err != nil {
				return err
			}
			logger.WithContext(context.WithValue(ctx, logger.RemoteKey, args[0])).
				Info("forward held open", zap.Int("local_port", bound))
			fmt.Printf("forwarding localhost:%d -> %s:%d via %s (Ctrl-C to stop)\n",
				bound, host, remotePort, args[0])

			<-ctx.Done()
			return transport.PortForwardStop(host, remotePort, bound)
		},
	}
}
