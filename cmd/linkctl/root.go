package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jacentio/linkstore/internal/config"
	"github.com/jacentio/linkstore/internal/logging"
	"github.com/jacentio/linkstore/link"
	"github.com/jacentio/linkstore/store"
)

// Backend is what the commands need from DynamoDB.
type Backend interface {
	store.Client
	store.TableCreator
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Env        string
	Endpoint   string
	LogLevel   string
	Format     string // "text" | "json"
	Metrics    bool

	// connect opens the backend; tests swap it for an in-memory one.
	connect  func(ctx context.Context, cfg config.Config) (Backend, error)
	registry *prometheus.Registry
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// session is the per-invocation wiring shared by the commands.
type session struct {
	cfg     config.Config
	backend Backend
	store   *store.Store
	links   *link.Repository
	logger  *slog.Logger
}

// NewRootCommand creates the root command for linkctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{connect: dynamoBackend})
}

func dynamoBackend(ctx context.Context, cfg config.Config) (Backend, error) {
	client, err := cfg.DynamoDB(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	if opts.registry == nil {
		opts.registry = prometheus.NewRegistry()
	}

	cmd := &cobra.Command{
		Use:   "linkctl",
		Short: "Manage short links stored in DynamoDB",
		Long: `Manage short links stored in DynamoDB.

Tables are resolved per environment: links live in UrlShortenerLinks_{env}
and counters in {env}_Counters.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if !opts.Metrics {
				return nil
			}
			return writeMetrics(cmd.ErrOrStderr(), opts.registry)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv(config.PathEnv), "config file")
	cmd.PersistentFlags().StringVarP(&opts.Env, "env", "e", "", "environment (overrides the config file)")
	cmd.PersistentFlags().StringVar(&opts.Endpoint, "endpoint", "", "DynamoDB endpoint, e.g. DynamoDB Local")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVar(&opts.Metrics, "metrics", false, "print store metrics to stderr when done")

	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewCounterCommand(opts))
	cmd.AddCommand(NewProvisionCommand(opts))

	return cmd
}

func (o *RootOptions) open(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.Env != "" {
		cfg.Environment = o.Env
	}
	if o.Endpoint != "" {
		cfg.Endpoint = o.Endpoint
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}

	logger, err := logging.New(cmd.ErrOrStderr(), logging.Options{Level: cfg.LogLevel, Format: logging.FormatPretty})
	if err != nil {
		return nil, err
	}
	backend, err := o.connect(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}

	s := store.New(backend, cfg.Store())
	s.SetLogger(logger)
	if o.Metrics {
		m := store.NewMetrics(o.registry)
		s.SetMetrics(m)
	}
	return &session{cfg: cfg, backend: backend, store: s, links: link.NewRepository(s), logger: logger}, nil
}

// writeMetrics prints every gathered sample as name{labels} value.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			value := m.GetCounter().GetValue()
			if h := m.GetHistogram(); h != nil {
				value = float64(h.GetSampleCount())
			}
			fmt.Fprintf(w, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), value)
		}
	}
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
