// Command eimcamera serves a browser UI to preview a camera, take photos and
// record videos, and lists the available cameras.
//
// Examples:
//
//	# List available devices and quit.
//	eimcamera devices
//
//	# Serve the UI on :8080 using the default source.
//	eimcamera serve
//
//	# Serve using gstreamer, refreshing the device list when cameras come and go.
//	eimcamera serve --source gstreamer --interval 250ms --watch-devices
//
//	# Take a single photo with ffmpeg.
//	eimcamera snap --source ffmpeg --device /dev/video0 -o photo.jpg
package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	camera "github.com/edgeimpulse/linux-camera-go"
	"github.com/edgeimpulse/linux-camera-go/internal/logging"
	"github.com/edgeimpulse/linux-camera-go/source/ffmpeg"
	"github.com/edgeimpulse/linux-camera-go/source/gstreamer"
	"github.com/edgeimpulse/linux-camera-go/source/imagesnap"
	"github.com/edgeimpulse/linux-camera-go/source/mediadev"

	"github.com/spf13/cobra"
)

// CLI flags
var (
	sourceFlag   string
	logLevelFlag string
	intervalFlag time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "eimcamera",
	Short: "Camera preview, photo and video capture",
	Long: `eimcamera captures from a local camera through one of several sources:

  mediadev   native capture drivers (default on linux)
  gstreamer  gst-launch-1.0 and gst-device-monitor-1.0
  ffmpeg     ffmpeg and v4l2-ctl
  imagesnap  imagesnap (default on macOS)`,
	SilenceUsage:     true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevelFlag)
	},
}

func init() {
	defaultSource := "mediadev"
	if runtime.GOOS == "darwin" {
		defaultSource = "imagesnap"
	}

	rootCmd.PersistentFlags().StringVar(&sourceFlag, "source", defaultSource, "capture source: mediadev, gstreamer, ffmpeg or imagesnap")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: debug, info, warn or error (default from "+logging.LevelEnv+", else info)")
	rootCmd.PersistentFlags().DurationVar(&intervalFlag, "interval", 100*time.Millisecond, "how often to capture a preview frame")

	rootCmd.AddCommand(serveCmd, devicesCmd, snapCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newSource(name string, interval time.Duration) (camera.MediaDevices, error) {
	switch name {
	case "mediadev":
		return mediadev.New(mediadev.Opts{}), nil
	case "gstreamer":
		return gstreamer.New(gstreamer.Opts{Interval: interval}), nil
	case "ffmpeg":
		return ffmpeg.New(ffmpeg.Opts{Interval: interval}), nil
	case "imagesnap":
		return imagesnap.New(imagesnap.Opts{Interval: interval}), nil
	}
	return nil, fmt.Errorf("unknown source %q", name)
}
