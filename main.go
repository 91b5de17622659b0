package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/envoi/pkg/certstore"
	"github.com/envoi/pkg/config"
	"github.com/envoi/pkg/fallback"
	"github.com/envoi/pkg/logger"
	"github.com/envoi/pkg/metrics"
	"github.com/envoi/pkg/proxy"
	"github.com/envoi/pkg/router"
	"github.com/envoi/pkg/static"
	"github.com/envoi/pkg/supervisor"
	envoitls "github.com/envoi/pkg/tls"
)

type serveFlags struct {
	configFile string
	hostsFile  string
	certFile   string
	keyFile    string
	selfSigned bool
	logLevel   string
	staticDir  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags serveFlags

	rootCmd := &cobra.Command{
		Use:   "envoi",
		Short: "TLS-terminating reverse proxy that routes by Host header",
		Long: `envoi terminates TLS on :443 and forwards each request to the destination
configured for its Host header in the hosts file. Requests for unknown hosts
are answered by a loopback 404 service.

Examples:
  # Serve with the default Hosts.yaml and certs/public.der, certs/private.der
  envoi

  # Use PEM files and a custom hosts file
  envoi --hosts /etc/envoi/hosts.yaml --cert cert.pem --key key.pem

  # Local testing with a generated certificate
  envoi --self-signed --log-level debug`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			level, err := logger.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			log := logger.New("envoi", level)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, log)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", "", "optional YAML settings file")
	pf.StringVar(&flags.hostsFile, "hosts", "", "hosts file (default \"Hosts.yaml\")")
	pf.StringVar(&flags.certFile, "cert", "", "certificate file, PEM or DER")
	pf.StringVar(&flags.keyFile, "key", "", "private key file, PEM or DER")
	pf.BoolVar(&flags.selfSigned, "self-signed", false, "generate a self-signed certificate instead of loading one")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (error, warn, info, debug)")
	pf.StringVar(&flags.staticDir, "static-dir", "", "serve this directory on the static listener")

	rootCmd.AddCommand(newExampleCmd())
	return rootCmd
}

func newExampleCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "example",
		Short: "Print an example hosts file entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hosts := []config.HostRoute{config.ExampleHost()}

			var data []byte
			var err error
			if asJSON {
				data, err = json.MarshalIndent(hosts, "", "  ")
				data = append(data, '\n')
			} else {
				data, err = config.MarshalHosts(hosts)
			}
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of YAML")
	return cmd
}

// loadConfig reads the settings file, if any, and applies explicitly set flags on top
func loadConfig(cmd *cobra.Command, flags serveFlags) (*config.Config, error) {
	cfg := config.Default()
	if flags.configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(flags.configFile); err != nil {
			return nil, err
		}
	}

	changed := cmd.Flags().Changed
	if changed("hosts") {
		cfg.HostsFile = flags.hostsFile
	}
	if changed("cert") {
		cfg.Certificates.CertFile = flags.certFile
	}
	if changed("key") {
		cfg.Certificates.KeyFile = flags.keyFile
	}
	if changed("self-signed") {
		cfg.Certificates.SelfSigned = flags.selfSigned
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if changed("static-dir") {
		cfg.Static.Dir = flags.staticDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// serverTLSConfig loads the configured key pair, or issues one covering every
// routed host when running self-signed
func serverTLSConfig(cfg *config.Config, table *router.Table, log *logger.Logger) (*tls.Config, error) {
	if !cfg.Certificates.SelfSigned {
		return envoitls.LoadServerConfig(envoitls.Config{
			CertFile: cfg.Certificates.CertFile,
			KeyFile:  cfg.Certificates.KeyFile,
		})
	}

	store, err := certstore.NewGeneratedStore(certstore.DefaultStoreOptions())
	if err != nil {
		return nil, err
	}

	routes := table.Routes()
	names := make([]string, 0, len(routes))
	for _, r := range routes {
		names = append(names, r.Host)
	}

	certPEM, keyPEM, err := store.IssuePEM(names...)
	if err != nil {
		return nil, err
	}
	log.Warn("Using a self-signed certificate for %d hosts; clients will not trust it", len(names))

	return envoitls.NewServerConfig(certPEM, keyPEM)
}

// run wires every component and blocks until ctx ends or a service fails
func run(ctx context.Context, cfg *config.Config, log *logger.Logger) (err error) {
	table, err := router.LoadOrCreate(cfg.HostsFile, cfg.FallbackURL(), log.Named("router"))
	if err != nil {
		return err
	}

	tlsConfig, err := serverTLSConfig(cfg, table, log.Named("tls"))
	if err != nil {
		return fmt.Errorf("failed to build TLS configuration: %w", err)
	}

	collector := metrics.New()

	// the fallback must be reachable before the first request is routed to it
	fallbackSvc, err := fallback.New(log.Named("fallback")).Listen(cfg.Fallback.Listen)
	if err != nil {
		return err
	}
	services := []supervisor.Service{fallbackSvc}

	bound := []io.Closer{fallbackSvc}
	defer func() {
		if err != nil {
			for _, c := range bound {
				c.Close()
			}
		}
	}()

	p := proxy.New(table, proxy.Options{
		DialTimeout:           cfg.Upstream.DialTimeout,
		ResponseHeaderTimeout: cfg.Upstream.ResponseHeaderTimeout,
		IdleConnTimeout:       cfg.Upstream.IdleConnTimeout,
		MaxIdleConnsPerHost:   cfg.Upstream.MaxIdleConnsPerHost,
	}, collector, log.Named("proxy"))
	defer p.Close()

	srv := proxy.NewServer(p,
		envoitls.NewTerminator(tlsConfig, cfg.Server.HandshakeTimeout),
		proxy.ServerOptions{
			MaxConnections:    cfg.Server.MaxConnections,
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
			IdleTimeout:       cfg.Server.IdleTimeout,
			ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		},
		collector, log.Named("server"))

	ln, err := proxy.Listen(cfg.Server.Listen)
	if err != nil {
		return &supervisor.ServiceError{Service: "proxy", Err: err}
	}
	bound = append(bound, ln)
	services = append(services, supervisor.Func("proxy", func(ctx context.Context) error {
		return srv.Serve(ctx, ln)
	}))

	if cfg.Static.Dir != "" {
		staticSvc, err := static.Listen(cfg.Static.Listen, cfg.Static.Dir, log.Named("static"))
		if err != nil {
			return err
		}
		bound = append(bound, staticSvc)
		services = append(services, staticSvc)
	}

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		metricsSvc, err := supervisor.ListenHTTP("metrics", cfg.Metrics.Listen, mux, log.Named("metrics"))
		if err != nil {
			return err
		}
		bound = append(bound, metricsSvc)
		services = append(services, metricsSvc)
	}

	log.Info("Routing %d hosts, fallback %s", table.Len(), table.Fallback())
	return supervisor.Run(ctx, log.Named("supervisor"), services...)
}
