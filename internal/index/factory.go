package index

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/amanrank/internal/config"
	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

// Open builds the configured backend, wrapped in a circuit breaker when
// breaker.enabled is set.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	var (
		backend Backend
		err     error
	)

	switch strings.ToLower(cfg.Index.Backend) {
	case config.BackendOpenSearch, "":
		backend, err = NewOpenSearch(OpenSearchConfig{
			URL:                cfg.Index.URL,
			Index:              cfg.Index.Name,
			Username:           cfg.Index.Username,
			Password:           cfg.Index.Password,
			InsecureSkipVerify: cfg.Index.InsecureSkipVerify,
			Timeout:            cfg.Index.Timeout,
			BulkSize:           cfg.Index.BulkSize,
		})
	case config.BackendLocal:
		backend, err = OpenLocal(ctx, cfg.Index.Path)
	default:
		return nil, amerrors.ConfigError("unknown index backend "+cfg.Index.Backend, nil)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("index_backend_opened",
		slog.String("backend", cfg.Index.Backend),
		slog.Bool("breaker", cfg.Breaker.Enabled))

	if !cfg.Breaker.Enabled {
		return backend, nil
	}
	return NewBreakerBackend(backend, BreakerConfig{
		Name:             "index-" + cfg.Index.Backend,
		MaxFailures:      cfg.Breaker.MaxFailures,
		OpenTimeout:      cfg.Breaker.OpenTimeout,
		HalfOpenRequests: cfg.Breaker.HalfOpenRequests,
		Interval:         cfg.Breaker.Interval,
	}), nil
}

// Unwrap returns the backend behind a circuit breaker, or b itself.
func Unwrap(b Backend) Backend {
	if bb, ok := b.(*BreakerBackend); ok {
		return bb.Backend
	}
	return b
}
