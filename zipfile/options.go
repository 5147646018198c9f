package zipfile

import (
	"go.uber.org/zap"
)

// Option configures an archive at open time.
type Option func(*archiveOptions) error

type archiveOptions struct {
	logger  *zap.Logger
	virtual bool
}

func (o *archiveOptions) setDefault() {
	*o = archiveOptions{
		logger: zap.NewNop(),
	}
}

func (o *archiveOptions) apply(opts []Option) error {
	o.setDefault()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return err
		}
	}
	return nil
}

// WithLogger sets the logger for the archive. Defaults to a no-op
// logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *archiveOptions) error { o.logger = l; return nil }
}

// WithVirtualFS routes the archive's backing file through the
// virtual-filesystem mount instead of the OS. The mount must be
// initialized, and write access additionally needs a write directory.
func WithVirtualFS() Option {
	return func(o *archiveOptions) error { o.virtual = true; return nil }
}
