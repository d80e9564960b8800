package pipeline

import (
	"context"
	"io"
	"strings"

	"github.com/YuminosukeSato/pvtrain/artifact"
	"github.com/YuminosukeSato/pvtrain/config"
	"github.com/YuminosukeSato/pvtrain/notify"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/YuminosukeSato/pvtrain/pkg/log"
	"github.com/YuminosukeSato/pvtrain/sink"
	"github.com/YuminosukeSato/pvtrain/telemetry"
)

// ConfigureLogging installs the process-wide log provider described by cfg.
func ConfigureLogging(cfg config.LogConfig, w io.Writer) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return errors.NewConfigError(err.Error())
	}
	switch strings.ToLower(cfg.Backend) {
	case "slog":
		log.SetProvider(log.NewSlogProvider(level, w))
	default:
		opts := []log.ZerologOption{log.WithWriter(w)}
		if strings.EqualFold(cfg.Format, "console") {
			opts = append(opts, log.WithConsoleFormat())
		}
		log.SetProvider(log.NewZerologProvider(level, opts...))
	}
	return nil
}

// Setup opens the store, sinks and publisher named by cfg and returns a
// runner using them. The returned func releases every connection.
func Setup(ctx context.Context, cfg *config.Config) (*Runner, func() error, error) {
	var closers []func() error
	closeAll := func() error {
		var first error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	store, err := artifact.Open(ctx, cfg.ArtifactOptions())
	if err != nil {
		return nil, nil, errors.Wrap(err, "open artifact store")
	}
	if c, ok := store.(io.Closer); ok {
		closers = append(closers, c.Close)
	}
	opts := []Option{WithStore(store), WithMetrics(telemetry.New())}

	if pg := cfg.Sinks.Postgres; pg.DSN != "" {
		s, err := sink.NewPostgresSink(ctx, pg.DSN, pg.Table)
		if err != nil {
			closeAll()
			return nil, nil, errors.Wrap(err, "postgres sink")
		}
		closers = append(closers, s.Close)
		opts = append(opts, WithSinks(s))
	}
	if in := cfg.Sinks.Influx; in.URL != "" {
		s := sink.NewInfluxSink(in.URL, in.Token, in.Org, in.Bucket)
		closers = append(closers, s.Close)
		opts = append(opts, WithSinks(s))
	}
	if cfg.Notify.NATSURL != "" {
		ncfg := notify.DefaultConfig(cfg.Notify.NATSURL)
		if cfg.Notify.Subject != "" {
			ncfg.Subject = cfg.Notify.Subject
		}
		p, err := notify.Connect(ncfg)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, p.Close)
		opts = append(opts, WithPublisher(p))
	}
	return NewRunner(cfg, opts...), closeAll, nil
}
