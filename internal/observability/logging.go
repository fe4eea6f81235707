package observability

import (
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ConfigureLogging applies level and format ("text" or "json") to the
// standard logrus logger.
func ConfigureLogging(out io.Writer, level, format string) error {
	parsed, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unsupported log format %q", format)
	}

	if out != nil {
		log.SetOutput(out)
	}
	log.SetLevel(parsed)
	return nil
}
