// Package main is the entry point for the portald connection manager.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nuclearlighters/portald/internal/config"
	"github.com/nuclearlighters/portald/internal/database"
	"github.com/nuclearlighters/portald/internal/eeprom"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "portald",
	Short:         "Captive-portal WiFi connection manager",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the portald version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "portald:", err)
		os.Exit(1)
	}
}

// setupLogging configures zerolog based on log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// openStorage returns the credential region: RAM only when Volatile is set,
// otherwise a region row in the SQLite database.
func openStorage(cfg *config.Settings) (eeprom.Device, func(), error) {
	if cfg.Volatile {
		log.Warn().Msg("Volatile storage, credentials will not survive a restart")
		return eeprom.NewMemory(cfg.StorageSize), func() {}, nil
	}

	db, err := database.Open(cfg.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	dev, err := eeprom.OpenSQLite(db, 0, cfg.StorageSize)
	if err != nil {
		database.Close(db)
		return nil, nil, err
	}
	return dev, func() {
		if err := database.Close(db); err != nil {
			log.Warn().Err(err).Msg("Error closing database")
		}
	}, nil
}

// requestLogger is middleware that logs HTTP requests using zerolog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}
