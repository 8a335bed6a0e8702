package buildsys

import (
	"context"

	"github.com/rs/zerolog"
)

// Log returns the logger attached to ctx. A disabled logger is returned if there is none.
func Log(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// WithLogger attaches the given logger to the context
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}
