package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"clinicd/internal/config"
)

const envPrefix = "CLINICD"

// newRootCmd builds the command tree. Every flag can also be set from the
// environment as CLINICD_<FLAG>, with dashes turned into underscores.
func newRootCmd() *cobra.Command {
	v := newViper()
	root := &cobra.Command{
		Use:           "clinicd",
		Short:         "Clinical text analysis service",
		Long:          "clinicd classifies clinical case descriptions, summarizes them and drafts treatment recommendations.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return v.BindPFlags(cmd.Flags())
		},
	}
	bindFlags(root.PersistentFlags())

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Verify configured models and runtimes without loading them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, v)
		},
	}
	checkCmd.Flags().Bool("json", false, "Print the report as JSON")

	root.AddCommand(
		&cobra.Command{
			Use:     "serve",
			Short:   "Start the HTTP API",
			Example: "  clinicd serve --config clinicd.yaml --addr :8000",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd, v)
			},
		},
		checkCmd,
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func bindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML, JSON or TOML config file")
	fs.String("addr", "", "HTTP listen address (default :8000)")
	fs.String("device", "", "Device: auto, cuda, mps or cpu")
	fs.String("models-dir", "", "Directory scanned for model artifacts")
	fs.String("log-level", "", "Log level: debug, info, warn or error")
	fs.String("log-format", "", "Log format: json or console")
	fs.Bool("swagger", false, "Serve Swagger UI at /swagger/ (requires the swagger build tag)")
	fs.String("cors-origins", "", "Comma-separated allowed CORS origins; enables CORS when set")
	fs.Bool("auth", false, "Require a bearer token on /api/v1/analyze")
	fs.Bool("ratelimit", true, "Enable per-tier rate limiting on /api/v1/analyze")
	fs.Int("min-text-length", 0, "Minimum text length in characters")
	fs.String("generator-runtime", "", "Generator runtime: inprocess, spawn or remote")
	fs.String("generator-url", "", "Base URL of a remote llama-server")
	fs.Int("max-concurrent", 0, "Concurrent pipeline runs")
	fs.Bool("parallel-load", false, "Load classifier and summarizer concurrently")
}

// loadConfig layers defaults, the config file, the environment secrets and
// finally flags or CLINICD_* variables that were explicitly set.
func loadConfig(v *viper.Viper) (config.Config, error) {
	cfg := config.Default()
	if path := v.GetString("config"); path != "" {
		c, err := config.Load(path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	cfg.ApplyEnv(os.LookupEnv)

	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			if s := strings.TrimSpace(v.GetString(key)); s != "" {
				*dst = s
			}
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			if n := v.GetInt(key); n > 0 {
				*dst = n
			}
		}
	}
	setString("addr", &cfg.Server.Addr)
	setString("device", &cfg.Device)
	setString("models-dir", &cfg.ModelsDir)
	setString("log-level", &cfg.Log.Level)
	setString("log-format", &cfg.Log.Format)
	setString("generator-runtime", &cfg.Generator.Runtime)
	setString("generator-url", &cfg.Generator.RemoteURL)
	setInt("min-text-length", &cfg.MinTextLength)
	setInt("max-concurrent", &cfg.Manager.MaxConcurrent)
	if v.IsSet("swagger") {
		cfg.Server.Swagger = v.GetBool("swagger")
	}
	if v.IsSet("auth") {
		cfg.Auth.Enabled = v.GetBool("auth")
	}
	if v.IsSet("ratelimit") {
		cfg.RateLimit.Enabled = v.GetBool("ratelimit")
	}
	if v.IsSet("parallel-load") {
		cfg.Manager.ParallelLoad = v.GetBool("parallel-load")
	}
	if v.IsSet("cors-origins") {
		if origins := splitCSV(v.GetString("cors-origins")); len(origins) > 0 {
			cfg.Server.CORS.Enabled = true
			cfg.Server.CORS.Origins = origins
		}
	}
	// flag values are relative to the working directory
	if err := cfg.ResolvePaths(""); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(c config.LogConfig, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.Level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if strings.EqualFold(c.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "clinicd").Logger()
}

// splitCSV splits a comma-separated list, trimming blanks and dropping empties.
func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
