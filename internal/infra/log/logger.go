// Package logs builds the process-wide slog.Logger from config.
package logs

import (
	"log/slog"
	"os"
	"strings"

	"calsync/config"

	"github.com/pkg/errors"
	"go.uber.org/fx"
)

// Params holds dependencies for the logger, injected by Fx.
type Params struct {
	fx.In

	Config *config.Config
}

// New builds the logger. Pretty mode emits human-readable text for local
// runs; everything else gets JSON for log aggregation.
func New(params Params) (*slog.Logger, error) {
	level, err := parseLogLevel(params.Config.Env.Log.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if params.Config.Env.Log.Pretty {
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
}

// parseLogLevel maps the configured level name onto slog.Level. An empty
// value means info.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.Errorf("unknown log level: %s", level)
	}
}
