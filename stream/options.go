package stream

import (
	"go.uber.org/zap"
)

// Option configures a stream at open time.
type Option func(*streamOptions) error

type streamOptions struct {
	logger *zap.Logger
}

func (o *streamOptions) setDefault() {
	*o = streamOptions{
		logger: zap.NewNop(),
	}
}

func (o *streamOptions) apply(opts []Option) error {
	o.setDefault()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return err
		}
	}
	return nil
}

// WithLogger sets the logger for the stream. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *streamOptions) error { o.logger = l; return nil }
}
