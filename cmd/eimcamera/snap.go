package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	camera "github.com/edgeimpulse/linux-camera-go"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	deviceFlag  string
	outputFlag  string
	timeoutFlag time.Duration
)

var snapCmd = &cobra.Command{
	Use:   "snap",
	Short: "Take a single photo and write it to a file",
	Args:  cobra.NoArgs,
	RunE:  runSnap,
}

func init() {
	snapCmd.Flags().StringVar(&deviceFlag, "device", "", "device ID to use, by default the first device returned when listing devices")
	snapCmd.Flags().StringVarP(&outputFlag, "output", "o", "photo.jpg", "output file, the format follows the extension")
	snapCmd.Flags().DurationVar(&timeoutFlag, "timeout", 15*time.Second, "how long to wait for the camera")
}

func runSnap(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
	defer cancel()

	md, err := newSource(sourceFlag, intervalFlag)
	if err != nil {
		return err
	}

	id := deviceFlag
	if id == "" {
		devs, err := camera.ListDevices(ctx, md)
		if err != nil {
			return fmt.Errorf("listing devices: %w", err)
		}
		id = devs[0].ID
	}

	neg := &camera.Negotiator{Devices: md}
	stream, err := neg.Negotiate(ctx, id)
	if err != nil {
		return err
	}
	defer stream.Close()

	img, err := waitFrame(ctx, stream, intervalFlag)
	if err != nil {
		return err
	}
	if err := imaging.Save(img, outputFlag, imaging.JPEGQuality(camera.PhotoQuality)); err != nil {
		return fmt.Errorf("writing photo: %w", err)
	}
	log.Info().Str("device", stream.DeviceID()).Str("file", outputFlag).Stringer("size", img.Bounds().Size()).Msg("Photo saved")
	return nil
}

// waitFrame polls the stream until it has a frame.
func waitFrame(ctx context.Context, stream camera.Stream, interval time.Duration) (image.Image, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		img, err := stream.Frame()
		if err == nil {
			return img, nil
		}
		if !errors.Is(err, camera.ErrNoFrame) {
			return nil, fmt.Errorf("reading frame: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for frame: %w", ctx.Err())
		case <-t.C:
		}
	}
}
