package logging

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Setup configures the standard logrus logger.
func Setup(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)
	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
