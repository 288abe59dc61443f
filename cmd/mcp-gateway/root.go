package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	keyLogLevel    = "log-level"
	keyLogFormat   = "log-format"
	keyDatabaseURL = "database-url"

	logFormatJSON = "json"
	logFormatText = "text"
)

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "mcp-gateway",
		Short:         "OAuth 2.0 authorization server and MCP gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.String(keyLogLevel, "info", "log level (debug, info, warn, error)")
	flags.String(keyLogFormat, logFormatJSON, "log format (json, text)")
	flags.String(keyDatabaseURL, "", "PostgreSQL connection URL; in-memory storage when empty")
	mustBindFlag(v, keyLogLevel, "LOG_LEVEL", flags.Lookup(keyLogLevel))
	mustBindFlag(v, keyLogFormat, "LOG_FORMAT", flags.Lookup(keyLogFormat))
	mustBindFlag(v, keyDatabaseURL, "DATABASE_URL", flags.Lookup(keyDatabaseURL))

	cmd.AddCommand(
		newServeCommand(v),
		newMigrateCommand(v),
		newVersionCommand(),
	)
	return cmd
}

// mustBindFlag binds key to flag and, when env is set, to that environment
// variable. Environment names are explicit rather than derived from a prefix.
func mustBindFlag(v *viper.Viper, key, env string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
	if env != "" {
		if err := v.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "fatal":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

func newLogger(v *viper.Viper, w io.Writer) (*slog.Logger, error) {
	level, err := parseLogLevel(v.GetString(keyLogLevel))
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format := strings.ToLower(v.GetString(keyLogFormat)); format {
	case logFormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	case logFormatText:
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return slog.New(handler).With("app", "mcp-gateway"), nil
}
