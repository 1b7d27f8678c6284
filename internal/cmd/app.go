package cmd

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/meilidash/internal/config"
	"github.com/Iron-Ham/meilidash/internal/errors"
	"github.com/Iron-Ham/meilidash/internal/logging"
	"github.com/Iron-Ham/meilidash/internal/meili"
	"github.com/Iron-Ham/meilidash/internal/query"
	"github.com/Iron-Ham/meilidash/internal/settingsync"
)

// app bundles what every service command needs.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	client *meili.Client
	out    io.Writer
}

// newApp loads the configuration and connects the client. The caller must
// call close.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := setupLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger, _ = logger.WithNewSession()
	logger = logger.With("command", cmd.CommandPath())

	client, err := meili.New(cfg.Meilisearch.Host,
		meili.WithAPIKey(cfg.Meilisearch.APIKey),
		meili.WithTimeout(cfg.Meilisearch.Timeout()),
		meili.WithPollInterval(cfg.Sync.PollInterval()),
		meili.WithLogger(logger),
	)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, client: client, out: cmd.OutOrStdout()}, nil
}

func (a *app) close() {
	_ = a.logger.Close()
}

func setupLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	if !cfg.Enabled {
		return logging.NopLogger(), nil
	}
	logger, err := logging.NewLoggerWithRotation(cfg.ResolveDir(), cfg.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to set up logging")
	}
	return logger, nil
}

// resolveIndex returns the index named on the command line, falling back to
// the configured default.
func (a *app) resolveIndex(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if a.cfg.Meilisearch.Index != "" {
		return a.cfg.Meilisearch.Index, nil
	}
	return "", errors.NewValidationError("no index given").
		WithField("index").
		WithCause(errors.New("pass an index UID or set meilisearch.index"))
}

// codecFor resolves the text format: an explicit flag wins, then the file
// extension, then the configured default.
func (a *app) codecFor(flagFormat, path string) (settingsync.Codec, error) {
	format := flagFormat
	if format == "" && path != "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			format = "yaml"
		case ".json":
			format = "json"
		}
	}
	if format == "" {
		format = a.cfg.Sync.Format
	}
	return settingsync.CodecFor(format)
}

// newSession creates a settings session for index.
func (a *app) newSession(index string, codec settingsync.Codec, notifier settingsync.Notifier, pollTasks bool) *settingsync.Session {
	cache := query.NewClient(
		query.WithTTL(a.cfg.Cache.TTL()),
		query.WithMaxEntries(a.cfg.Cache.MaxEntries),
		query.WithLogger(a.logger),
	)

	opts := settingsync.DefaultOptions()
	opts.Scope = a.client.Host()
	opts.Codec = codec
	opts.RefetchDelay = a.cfg.Sync.RefetchDelay()
	opts.PollTasks = pollTasks || a.cfg.Sync.PollTasks
	opts.Notifier = notifier
	opts.Logger = a.logger.WithIndex(index)

	return settingsync.NewSession(cache, &indexSettings{client: a.client}, index, opts)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
