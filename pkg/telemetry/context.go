package telemetry

import (
	"context"
	"errors"
	"fmt"
)

// Telemetry bundles logging, tracing, metrics and the event store.
type Telemetry struct {
	Logger   *Logger
	Tracer   *Tracer
	Metrics  *Metrics
	Events   *EventStore
	Archiver *S3Archiver
	Config   *Config
}

// Option configures NewTelemetry.
type Option func(*options)

type options struct {
	eventOpts []EventStoreOption
	archive   *ArchiveConfig
	logger    *Logger
}

// WithEventStoreOptions passes options to the event store.
func WithEventStoreOptions(opts ...EventStoreOption) Option {
	return func(o *options) {
		o.eventOpts = append(o.eventOpts, opts...)
	}
}

// WithArchive enables S3 archival of events.
func WithArchive(cfg ArchiveConfig) Option {
	return func(o *options) {
		o.archive = &cfg
	}
}

// WithLogger uses an existing logger instead of building one from the
// logging configuration.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = NewLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	var archiver *S3Archiver
	eventOpts := append([]EventStoreOption{WithEventLogger(logger.Zerolog())}, o.eventOpts...)
	if o.archive != nil {
		archiver, err = NewS3Archiver(ctx, *o.archive, logger.Zerolog())
		if err != nil {
			return nil, err
		}
		var filter EventPredicate
		if len(o.archive.Kinds) > 0 {
			filter = FilterByKind(o.archive.Kinds...)
		}
		eventOpts = append(eventOpts, WithSubscriber(archiver.Subscriber(), filter))
	}

	events, err := NewEventStore(cfg.Events, eventOpts...)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:   logger,
		Tracer:   tracer,
		Metrics:  metrics,
		Events:   events,
		Archiver: archiver,
		Config:   cfg,
	}, nil
}

// Shutdown drains the event store, flushes the archive and the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if err := t.Events.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if t.Archiver != nil {
		if _, err := t.Archiver.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := t.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := t.Logger.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
