package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgeimpulse/linux-camera-go/hotplug"
	"github.com/edgeimpulse/linux-camera-go/shell"
	"github.com/edgeimpulse/linux-camera-go/web"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	addrFlag         string
	watchDevicesFlag bool
	thumbSizeFlag    int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the camera UI",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", ":8080", "address to listen on")
	serveCmd.Flags().BoolVar(&watchDevicesFlag, "watch-devices", false, "refresh the device list when video devices are added or removed (linux)")
	serveCmd.Flags().IntVar(&thumbSizeFlag, "thumbnail-size", web.DefaultThumbnailSize, "edge length of gallery thumbnails in pixels")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	md, err := newSource(sourceFlag, intervalFlag)
	if err != nil {
		return err
	}
	ctrl := shell.NewController(md, shell.Opts{})
	defer func() {
		if err := ctrl.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing controller")
		}
	}()

	// Failures are shown in the UI, which can retry.
	if err := ctrl.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial device refresh")
	}

	if watchDevicesFlag {
		w, err := hotplug.New(hotplug.Opts{}, func() {
			log.Info().Msg("Video devices changed, refreshing")
			if err := ctrl.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("Refreshing devices")
			}
		})
		if err != nil {
			return fmt.Errorf("watching devices: %w", err)
		}
		defer w.Close()
	}

	srv := web.New(ctrl, web.Opts{Interval: intervalFlag, ThumbnailSize: thumbSizeFlag})
	httpSrv := &http.Server{
		Addr:              addrFlag,
		Handler:           withLogging(srv.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Preview pump")
		}
	}()

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("Shutting down server")
		}
	}()

	log.Info().Str("addr", addrFlag).Str("source", sourceFlag).Msg("Starting web server")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if r.URL.Path != "/ws" {
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("Request")
		}
	})
}
