// Package config holds the run configuration and its validation.
package config

import (
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/athapong/entity-sieve/pkg/jsonpath"
	"github.com/athapong/entity-sieve/pkg/lookup"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrMissingOption is returned when a required option is empty
	ErrMissingOption = errors.New("missing required option")
	// ErrInvalidOption is returned when an option has an unusable value
	ErrInvalidOption = errors.New("invalid option")
)

var logFormats = mapset.NewSet[string]("text", "json")

// Config is everything a run needs
type Config struct {
	URI           string
	IDSourceField string
	IDSourceDoc   string
	TargetIndex   string
	TargetField   string

	Timeout    time.Duration
	MaxRetries int
	Insecure   bool
	Compress   bool

	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Default returns the defaults of the original tool
func Default() Config {
	return Config{
		URI:        lookup.DefaultURI,
		Timeout:    lookup.DefaultTimeout,
		MaxRetries: lookup.DefaultMaxRetries,
		Insecure:   true,
		Compress:   true,
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

// Validate checks required options first, then option values
func (c Config) Validate() error {
	var missing []string
	if c.IDSourceField == "" {
		missing = append(missing, "idSourceField")
	}
	if c.TargetIndex == "" {
		missing = append(missing, "targetIndex")
	}
	if c.TargetField == "" {
		missing = append(missing, "targetField")
	}
	if len(missing) > 0 {
		return errors.Wrap(ErrMissingOption, strings.Join(missing, ", "))
	}

	u, err := url.Parse(c.URI)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Wrapf(ErrInvalidOption, "uri %q must be an http(s) URL", c.URI)
	}
	if c.Timeout <= 0 {
		return errors.Wrapf(ErrInvalidOption, "timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxRetries < 0 {
		return errors.Wrapf(ErrInvalidOption, "max-retries must not be negative, got %d", c.MaxRetries)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(ErrInvalidOption, "log-level: %v", err)
	}
	if !logFormats.Contains(c.LogFormat) {
		return errors.Wrapf(ErrInvalidOption, "log-format %q is not one of %v", c.LogFormat, logFormats.ToSlice())
	}
	if _, _, err := c.Paths(); err != nil {
		return errors.Wrap(ErrInvalidOption, err.Error())
	}
	return nil
}

// Paths compiles the id and subdocument paths. The subdocument path is nil
// when IDSourceDoc is empty.
func (c Config) Paths() (idPath, docPath *jsonpath.Path, err error) {
	idPath, err = jsonpath.Compile(c.IDSourceField)
	if err != nil {
		return nil, nil, errors.Wrap(err, "idSourceField")
	}
	if c.IDSourceDoc == "" {
		return idPath, nil, nil
	}
	docPath, err = jsonpath.Compile(c.IDSourceDoc)
	if err != nil {
		return nil, nil, errors.Wrap(err, "idSourceDoc")
	}
	return idPath, docPath, nil
}

// RedactedURI returns URI with any password replaced by "xxxxx"
func (c Config) RedactedURI() string {
	u, err := url.Parse(c.URI)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}

// LookupOptions returns the search client options for this config
func (c Config) LookupOptions(logger *logrus.Logger) lookup.Options {
	return lookup.Options{
		URI:                c.URI,
		Index:              c.TargetIndex,
		Field:              c.TargetField,
		Timeout:            c.Timeout,
		MaxRetries:         c.MaxRetries,
		InsecureSkipVerify: c.Insecure,
		Compress:           c.Compress,
		Logger:             logger,
	}
}

// ConfigureLogger applies level and format to logger and points it at w
func (c Config) ConfigureLogger(logger *logrus.Logger, w io.Writer) error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return errors.Wrapf(ErrInvalidOption, "log-level: %v", err)
	}
	logger.SetLevel(level)
	logger.SetOutput(w)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	return nil
}
