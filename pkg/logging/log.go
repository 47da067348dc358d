package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger points the global logger at stderr. Standard output is reserved for the
// destination path printed on success.
func SetupLogger() {
	log.Logger = NewConsoleLogger(os.Stderr)
}

// NewConsoleLogger returns a human readable, colourless logger writing to w.
func NewConsoleLogger(w io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	output.FormatLevel = func(i interface{}) string {
		return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
	}
	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("[ %s ]", i)
	}
	return zerolog.New(output).With().Timestamp().Logger()
}

func GetLogger() zerolog.Logger {
	return log.Logger
}
