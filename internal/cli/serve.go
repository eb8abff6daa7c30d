package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/dst-flow/internal/api"
	"github.com/rcliao/dst-flow/internal/config"
	"github.com/rcliao/dst-flow/internal/flow"
	"github.com/rcliao/dst-flow/internal/logging"
	"github.com/rcliao/dst-flow/internal/store"
	"github.com/rcliao/dst-flow/internal/upload"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the study HTTP server",
		Long:  "Serve the study flow API. Config file changes apply to the log level at once and to everything else from the next session on.",
		Run:   runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	loader := loadConfig()
	cfg := loader.Config()
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		exitErr("config", err)
	}

	log := newLogger(cfg.Logging)
	defer log.Close()

	if f := loader.File(); f != "" {
		log.Info("configuration loaded", zap.String("file", f))
	} else {
		log.Info("no configuration file found, using defaults and environment")
	}
	loader.OnChange(func(c config.Config) {
		if err := logging.SetLevel(log.Level, c.Logging.Level); err != nil {
			log.Warn("ignoring log level change", zap.Error(err))
		}
	})
	loader.Watch(log.Logger)

	path := getDBPath(cfg)
	archive, err := store.NewSQLiteStore(path)
	if err != nil {
		exitErr("open store", err)
	}
	defer archive.Close()
	log.Info("archive opened", zap.String("path", path))

	// Validate the sequence once up front so a broken file fails at startup.
	if _, err := loadSequence(cfg.Study.SequenceFile); err != nil {
		exitErr("sequence", err)
	}

	factory := func() (*flow.Controller, error) {
		c := loader.Config()
		seq, err := loadSequence(c.Study.SequenceFile)
		if err != nil {
			return nil, err
		}
		var backend upload.Backend
		if c.Backend.Enabled {
			backend = upload.NewRESTBackend(c.Backend.URL, c.Backend.APIKey, c.Backend.Timeout)
		}
		return flow.New(flow.Options{
			Sequence:       seq,
			StudyTitle:     c.Study.Title,
			SurveyHostPath: c.Study.SurveyHostPath,
			Backend:        backend,
			Archive:        archive,
			Log:            log.Logger,
			UploadTimeout:  c.Backend.Timeout,
		})
	}

	handler := api.NewHandler(factory, log.Logger)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(handler, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		if err := handler.Close(shutdownCtx); err != nil {
			log.Warn("pending uploads dropped", zap.Error(err))
		}
	}()

	log.Info("server listening",
		zap.String("addr", cfg.Server.Addr),
		zap.Bool("backend", cfg.Backend.Enabled),
		zap.String("study", cfg.Study.Title))

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", zap.Error(err))
		exitErr("serve", err)
	}
	<-done
}
