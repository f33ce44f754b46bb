package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"roverscope.com/camserver/frame"
	"roverscope.com/camserver/logging"
	"roverscope.com/camserver/pusher"
	"roverscope.com/camserver/watcher"
)

var (
	serverURL string
	deviceID  string
	timeout   time.Duration
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "provider",
	Short: "Send RGB565 frames to a camserver",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Setup(logLevel, "text")
	},
}

func newUploader() *pusher.Uploader {
	return pusher.NewUploader(serverURL, deviceID, timeout)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Upload every frame a capture process writes to shared memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("shm-dir")
		name, _ := cmd.Flags().GetString("name")
		memory, err := watcher.NewSharedMemoryReceiver(dir, name)
		if err != nil {
			return err
		}
		defer memory.Close()
		log.WithFields(log.Fields{"path": memory.Path(), "server": serverURL}).Info("Watching for frames")

		ctx := cmd.Context()
		go memory.WatchSharedMemory(ctx)
		uploader := newUploader()
		seq := 1
		for {
			select {
			case <-ctx.Done():
				return nil
			case f := <-memory.Frames:
				// the device does not retry; a lost frame is replaced by the next one
				if err := uploader.Upload(ctx, f, seq); err != nil {
					log.WithError(err).WithField("sequence", seq).Warn("Upload failed")
				}
				seq++
			}
		}
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Upload every frame envelope stored in a directory, in name order",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		interval, _ := cmd.Flags().GetDuration("interval")
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("cannot read replay directory: %w", err)
		}
		var files []string
		for _, e := range entries {
			if e.Type().IsRegular() {
				files = append(files, e.Name())
			}
		}
		sort.Strings(files)
		if len(files) == 0 {
			return errors.New("no frames to replay")
		}

		bar := progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("Replaying frames"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		ctx := cmd.Context()
		uploader := newUploader()
		failed := 0
		for i, name := range files {
			if ctx.Err() != nil {
				break
			}
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err == nil {
				_, err = frame.Decode(data)
			}
			if err == nil {
				err = uploader.UploadEnvelope(ctx, data, i+1)
			}
			if err != nil {
				failed++
				log.WithError(err).WithField("file", name).Debug("Frame not replayed")
			}
			bar.Add(1)
			if interval > 0 {
				time.Sleep(interval)
			}
		}
		bar.Finish()
		log.WithFields(log.Fields{"sent": len(files) - failed, "failed": failed}).Info("Replay finished")
		return nil
	},
}

var patternCmd = &cobra.Command{
	Use:   "pattern",
	Short: "Upload synthetic colour bar frames",
	RunE: func(cmd *cobra.Command, args []string) error {
		width, _ := cmd.Flags().GetUint16("width")
		height, _ := cmd.Flags().GetUint16("height")
		interval, _ := cmd.Flags().GetDuration("interval")
		count, _ := cmd.Flags().GetInt("count")
		if interval <= 0 {
			return fmt.Errorf("interval must be positive, got %s", interval)
		}

		ctx := cmd.Context()
		uploader := newUploader()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for seq := 1; count <= 0 || seq <= count; seq++ {
			if err := uploader.Upload(ctx, pusher.ColorBars(width, height, seq), seq); err != nil {
				log.WithError(err).WithField("sequence", seq).Warn("Upload failed")
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8000", "camserver base URL")
	rootCmd.PersistentFlags().StringVar(&deviceID, "device", "", "value sent as X-Device-IP")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "per upload timeout")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level")

	watchCmd.Flags().String("shm-dir", watcher.DefaultShmDir, "directory the capture process writes to")
	watchCmd.Flags().String("name", "video_frame", "frame file name inside shm-dir")

	replayCmd.Flags().String("dir", "", "directory of frame envelope files")
	replayCmd.Flags().Duration("interval", 0, "pause between frames")
	replayCmd.MarkFlagRequired("dir")

	patternCmd.Flags().Uint16("width", 160, "frame width")
	patternCmd.Flags().Uint16("height", 120, "frame height")
	patternCmd.Flags().Duration("interval", 500*time.Millisecond, "time between frames")
	patternCmd.Flags().Int("count", 0, "frames to send, 0 for no limit")

	rootCmd.AddCommand(watchCmd, replayCmd, patternCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
