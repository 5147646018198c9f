package wav

import (
	"go.uber.org/zap"
)

// Option configures a Source at load time.
type Option func(*sourceOptions) error

type sourceOptions struct {
	logger  *zap.Logger
	virtual bool
}

func (o *sourceOptions) setDefault() {
	*o = sourceOptions{
		logger: zap.NewNop(),
	}
}

func (o *sourceOptions) apply(opts []Option) error {
	o.setDefault()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return err
		}
	}
	return nil
}

// WithLogger sets the logger for the source. Defaults to a no-op
// logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *sourceOptions) error { o.logger = l; return nil }
}

// WithVirtualFS makes Open resolve the path through the
// virtual-filesystem mount instead of the OS.
func WithVirtualFS() Option {
	return func(o *sourceOptions) error { o.virtual = true; return nil }
}
