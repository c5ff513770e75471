// Package logging builds the hclog root logger shared by every component and
// handed to go-plugin clients.
package logging

import (
	"io"
	"os"
	"strings"

	hclog "github.com/hashicorp/go-hclog"
)

type Options struct {
	Name   string
	Level  string
	JSON   bool
	Output io.Writer
}

func New(opts Options) hclog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	name := opts.Name
	if name == "" {
		name = "plughost"
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      ParseLevel(opts.Level),
		Output:     out,
		JSONFormat: opts.JSON,
	})
}

// ParseLevel maps a config string to an hclog level, defaulting to info.
func ParseLevel(level string) hclog.Level {
	parsed := hclog.LevelFromString(strings.TrimSpace(level))
	if parsed == hclog.NoLevel {
		return hclog.Info
	}
	return parsed
}

// Discard returns a logger that drops every record.
func Discard() hclog.Logger {
	return hclog.NewNullLogger()
}
