package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jrsteele09/go-solar-auth/internal/config"
	"github.com/jrsteele09/go-solar-auth/internal/postgres"
	"github.com/jrsteele09/go-solar-auth/server"
	"github.com/jrsteele09/go-solar-auth/sessions"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Error running command")
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "solar-auth",
		Short:         "Authentication and session service for the solar billing application",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations to DATABASE_URL",
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := loadConfig()
				if err != nil {
					return err
				}
				if c.GetDatabaseURL() == "" {
					return errors.New("DATABASE_URL is not set")
				}
				if err := postgres.Migrate(cmd.Context(), c.GetDatabaseURL()); err != nil {
					return err
				}
				log.Info().Msg("Migrations applied")
				return nil
			},
		},
		&cobra.Command{
			Use:   "prune-sessions",
			Short: "Delete expired sessions from the postgres session store",
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := loadConfig()
				if err != nil {
					return err
				}
				if c.GetDatabaseURL() == "" {
					return errors.New("DATABASE_URL is not set")
				}
				pool, err := postgres.Open(cmd.Context(), c.GetDatabaseURL())
				if err != nil {
					return err
				}
				defer pool.Close()
				n, err := sessions.NewPostgresStore(pool).Prune(cmd.Context())
				if err != nil {
					return err
				}
				log.Info().Int64("removed", n).Msg("Expired sessions pruned")
				return nil
			},
		},
	)
	return root
}

func loadConfig() (config.Config, error) {
	c, err := config.New()
	if err != nil {
		return nil, err
	}
	setupLogging(c)
	return c, nil
}

func setupLogging(c config.EnvConfig) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
}

func serve(ctx context.Context) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := loadConfig()
	if err != nil {
		return err
	}
	displayAppname(c.GetAppName())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	handler, cleanup, err := server.Bootstrap(ctx, c, registry)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() { errs <- listenAndServe(srv) }()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	returnError = shutdown(srv)
	log.Info().Msg("Server stopped")
	return returnError
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
