package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nuclearlighters/portald/internal/config"
	"github.com/nuclearlighters/portald/internal/credential"
	"github.com/nuclearlighters/portald/internal/dhcpd"
	"github.com/nuclearlighters/portald/internal/dnsredir"
	"github.com/nuclearlighters/portald/internal/hal"
	"github.com/nuclearlighters/portald/internal/portal"
	"github.com/nuclearlighters/portald/internal/system"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the connection manager and its captive portal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.LogLevel)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Settings) error {
	log.Info().
		Str("version", version).
		Str("listen", cfg.ListenAddr()).
		Str("apid", cfg.Portal.APID).
		Msg("Starting portald")

	dev, closeStorage, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer closeStorage()
	store := credential.NewStore(dev, cfg.Portal.StorageOffset, cfg.Portal.Slots)

	halClient := hal.NewClient(cfg.HALURL)
	if err := halClient.Health(ctx); err != nil {
		log.Warn().Err(err).Msg("HAL not reachable - radio operations will fail until it is")
	}
	addressing, err := hal.NewNetlink()
	if err != nil {
		return fmt.Errorf("netlink: %w", err)
	}
	defer addressing.Close()
	radio := hal.NewRadio(halClient, addressing, cfg.StationInterface, cfg.APInterface)

	var dhcp *dhcpd.Server
	if cfg.DHCPEnabled {
		dhcp, err = dhcpd.New(dhcpd.Config{
			Interface: cfg.APInterface,
			ServerIP:  cfg.Portal.APIP,
			Gateway:   cfg.Portal.Gateway,
			Netmask:   cfg.Portal.Netmask,
			Lease:     cfg.DHCPLease,
			PortalURL: "http://" + cfg.Portal.APIP.String() + portal.URIStatus,
		})
		if err != nil {
			return fmt.Errorf("dhcp: %w", err)
		}
	}

	metrics := portal.NewMetrics()
	p, err := portal.New(cfg.Portal, radio, store, portal.Options{
		DNS:       dnsredir.New(cfg.DNSListen),
		DHCP:      dhcp,
		Sampler:   system.NewSampler(cfg.StoragePath),
		Restarter: restarter(halClient),
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}
	if cfg.PagesFile != "" {
		if err := loadPages(p, cfg.PagesFile); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      chi.Chain(middleware.RealIP, requestLogger).Handler(p.Handler()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Portal.ConnectTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.ListenAddr()).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		r := chi.NewRouter()
		r.Get("/metrics", metrics.Handler().ServeHTTP)
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: r, ReadTimeout: 5 * time.Second}
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Metrics server error")
			}
		}()
	}

	if err := p.Begin(ctx, nil, 0); err != nil {
		log.Warn().Err(err).Msg("Initial connection failed and the portal is disabled")
	}
	runErr := p.Run(ctx, cfg.TickInterval)

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if metricsSrv != nil {
		metricsSrv.Shutdown(shutdownCtx)
	}

	log.Info().Msg("Server stopped")
	return runErr
}

func loadPages(p *portal.Portal, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open pages file: %w", err)
	}
	defer f.Close()
	if err := p.Load(f); err != nil {
		return fmt.Errorf("load pages from %s: %w", path, err)
	}
	log.Info().Str("file", path).Msg("Extension pages loaded")
	return nil
}

// restarter asks HAL to reboot the host and reboots directly when HAL
// cannot.
func restarter(c *hal.Client) system.Restarter {
	return system.RestarterFunc(func(ctx context.Context) error {
		err := c.Reboot(ctx)
		if err == nil {
			return nil
		}
		log.Warn().Err(err).Msg("HAL reboot failed, rebooting locally")
		return system.LocalRestarter{}.Restart(ctx)
	})
}
