package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"roverscope.com/camserver/catalog"
	"roverscope.com/camserver/config"
	"roverscope.com/camserver/logging"
	"roverscope.com/camserver/notify"
	"roverscope.com/camserver/server"
	"roverscope.com/camserver/storage"
)

var (
	configPath string
	listen     string
	storageDir string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "camserver",
	Short: "Receive RGB565 camera frames and serve them as bitmaps",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "camserver.yaml", "path to the yaml config file")
	rootCmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides server.listen")
	rootCmd.Flags().StringVar(&storageDir, "storage", "", "frame directory, overrides storage.dir")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level, overrides log.level")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}
	if storageDir != "" {
		cfg.Storage.Dir = storageDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := storage.NewFrameStore(cfg.Storage.Dir)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"dir":  store.Dir(),
		"next": storage.FileName(store.FirstIndex()),
	}).Info("Frame storage ready")

	opts := server.Options{
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		MirrorRows:   cfg.Sensor.MirrorRows(),
		JPEGQuality:  cfg.Server.JPEGQuality,
		HistorySize:  cfg.History.Size,
		SinkQueue:    cfg.Server.SinkQueue,
	}

	if cfg.Catalog.DSN != "" {
		c, err := catalog.New(ctx, cfg.Catalog.DSN)
		if err != nil {
			return fmt.Errorf("failed to connect to catalog: %w", err)
		}
		defer c.Close()
		opts.Sinks = append(opts.Sinks, c)
		opts.Catalog = c
		n, err := c.Count(ctx)
		if err != nil {
			return fmt.Errorf("failed to query catalog: %w", err)
		}
		log.WithField("frames", n).Info("Frame catalog enabled")
	}

	if cfg.MQTT.Broker != "" {
		emitter := notify.NewMQTTEmitter(notify.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
		})
		if err := emitter.Connect(ctx); err != nil {
			// frames are still served without announcements
			log.WithError(err).Warn("MQTT unavailable, continuing without it")
			emitter.Disconnect()
		} else {
			defer func() {
				stats := emitter.Stats()
				log.WithFields(log.Fields{"published": stats.Published, "errors": stats.Errors}).Info("MQTT emitter stopped")
				emitter.Disconnect()
			}()
			opts.Sinks = append(opts.Sinks, emitter)
		}
	}

	srv, err := server.NewServer(store, opts)
	if err != nil {
		return err
	}
	return srv.Start(ctx, server.HTTPOptions{
		Listen:          cfg.Server.Listen,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
