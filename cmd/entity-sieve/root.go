package main

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/athapong/entity-sieve/pkg/config"
	"github.com/athapong/entity-sieve/pkg/lookup"
	"github.com/athapong/entity-sieve/pkg/metrics"
	"github.com/athapong/entity-sieve/pkg/sieve"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "SIEVE"

// NewRootCommand builds the entity-sieve command. Documents are read from
// stdin, records go to stdout and diagnostics to stderr.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cfg := config.Default()
	var envFile, configFile string

	logger := logrus.New()
	logger.SetOutput(stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	rc := &cobra.Command{
		Use:   "entity-sieve",
		Short: "Emit target entity records for ids missing from a search index.",
		Long: `entity-sieve reads a JSON array of documents from stdin, extracts an id
(and optionally a subdocument) from each one with JSONPath, and looks every
distinct id up in an OpenSearch/Elasticsearch index. For each id the index
does not contain, one target entity record is written to stdout as a line
of JSON.

Options can also be set through SIEVE_* environment variables, a .env file
or a TOML configuration file.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(envFile, logger); err != nil {
				return configError(cmd, logger, err)
			}
			if err := setAllConfig(viper.New(), cmd.Flags()); err != nil {
				return configError(cmd, logger, err)
			}
			if err := cfg.Validate(); err != nil {
				return configError(cmd, logger, err)
			}
			if err := cfg.ConfigureLogger(logger, stderr); err != nil {
				return configError(cmd, logger, err)
			}

			if err := run(cmd.Context(), cfg, stdin, stdout, logger); err != nil {
				logger.WithError(err).Error("entity-sieve failed")
				return err
			}
			return nil
		},
	}

	flags := rc.Flags()
	flags.StringVarP(&cfg.URI, "uri", "u", cfg.URI, "Search cluster base URI. Credentials in the userinfo part are sent as basic auth.")
	flags.StringVarP(&cfg.IDSourceField, "idSourceField", "i", "", "JSONPath selecting the entity id in each input document (required).")
	flags.StringVarP(&cfg.IDSourceDoc, "idSourceDoc", "d", "", "JSONPath selecting the entity subdocument in each input document.")
	flags.StringVarP(&cfg.TargetIndex, "targetIndex", "t", "", "Index to look ids up in (required).")
	flags.StringVarP(&cfg.TargetField, "targetField", "f", "", "Field of the index holding the id (required).")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Timeout of a single search request.")
	flags.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Retries of a search request on transport errors and 5xx responses.")
	flags.BoolVar(&cfg.Insecure, "insecure", cfg.Insecure, "Skip TLS certificate verification.")
	flags.BoolVar(&cfg.Compress, "compress", cfg.Compress, "Gzip search request bodies.")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Logging level (trace, debug, info, warn, error).")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json).")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address while running.")
	flags.StringVar(&envFile, "env", ".env", "Path to environment file.")
	flags.StringVarP(&configFile, "config", "c", "", "Configuration file to read from.")

	rc.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return configError(cmd, logger, err)
	})
	rc.SetIn(stdin)
	rc.SetOut(stderr)
	rc.SetErr(stderr)
	return rc
}

func configError(cmd *cobra.Command, logger *logrus.Logger, err error) error {
	logger.WithError(err).Error("Invalid configuration")
	_ = cmd.Usage()
	return err
}

// loadEnvFile exports the variables of path into the process environment.
// Variables that are already set keep their value.
func loadEnvFile(path string, logger *logrus.Logger) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			logger.WithField("path", path).Debug("No environment file")
			return nil
		}
		return errors.Wrapf(err, "load environment file %s", path)
	}
	return nil
}

// setAllConfig takes a FlagSet to be the definition of all configuration
// options, as well as their defaults. It then reads from the command line, the
// environment, and a config file (if specified), and applies the configuration
// in that priority order.
//
// Environment variables are the upper-cased flag names with dashes replaced by
// underscores, prefixed with SIEVE_.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	// viper keys are case-insensitive
	validTags := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) {
		validTags[strings.ToLower(f.Name)] = true
	})

	if c := v.GetString("config"); c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(config.ErrInvalidOption, "reading configuration file '%s': %v", c, err)
		}
		for _, key := range v.AllKeys() {
			if !validTags[key] {
				return errors.Wrapf(config.ErrInvalidOption, "unknown option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		if err := f.Value.Set(v.GetString(f.Name)); err != nil {
			flagErr = errors.Wrapf(config.ErrInvalidOption, "%s: %v", f.Name, err)
		}
	})
	return flagErr
}

func run(ctx context.Context, cfg config.Config, stdin io.Reader, stdout io.Writer, logger *logrus.Logger) error {
	log := logger.WithField("run_id", uuid.New().String())

	idPath, docPath, err := cfg.Paths()
	if err != nil {
		return err
	}
	client, err := lookup.NewClient(cfg.LookupOptions(logger))
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := metrics.Serve(metricsCtx, cfg.MetricsAddr, logger); err != nil {
				log.WithError(err).Warn("Metrics server stopped")
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	log.WithFields(logrus.Fields{
		"uri":    cfg.RedactedURI(),
		"index":  cfg.TargetIndex,
		"field":  cfg.TargetField,
		"id":     cfg.IDSourceField,
		"subdoc": cfg.IDSourceDoc,
	}).Info("Starting entity sieve")

	pipeline := sieve.NewPipeline(idPath, docPath, client)
	pipeline.SetLogger(logger)

	sink := sieve.NewNDJSONSink(stdout)
	summary, err := pipeline.Run(ctx, stdin, sink)
	if closeErr := sink.Close(); err == nil && closeErr != nil {
		err = errors.Wrap(closeErr, "close output")
	}

	log.WithFields(logrus.Fields{
		"documents":  summary.Documents,
		"without_id": summary.WithoutID,
		"duplicates": summary.Duplicates,
		"distinct":   summary.Distinct,
		"lookups":    summary.Lookups,
		"found":      summary.Found,
		"emitted":    summary.Emitted,
	}).Info("Run finished")

	return err
}
