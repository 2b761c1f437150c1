// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Output formats accepted by Configure.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Configure sets the level and formatter of the standard logger. Unknown
// levels or formats are rejected and leave the logger unchanged.
func Configure(level, format string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}

	var formatter log.Formatter
	switch strings.ToLower(format) {
	case "", FormatText:
		formatter = &log.TextFormatter{FullTimestamp: true}
	case FormatJSON:
		formatter = &log.JSONFormatter{}
	default:
		return fmt.Errorf("unsupported log format %q", format)
	}

	log.SetLevel(lvl)
	log.SetFormatter(formatter)
	return nil
}

// SetOutput redirects the standard logger, e.g. to keep stdout for command output.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func parseLevel(level string) (log.Level, error) {
	if level == "" {
		return log.InfoLevel, nil
	}
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return log.InfoLevel, fmt.Errorf("unsupported log level %q", level)
	}
	return lvl, nil
}

// Until the configuration is loaded the level comes from CHUNKPLACE_LOG_LEVEL,
// and logs go to stderr so command output on stdout stays clean.
func init() {
	log.SetOutput(os.Stderr)
	if lvl, err := parseLevel(os.Getenv("CHUNKPLACE_LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}
}
