// Package svcctx provides service context for dependency injection via
// context. Commands build the Services bundle once and extract what
// they need through the individual accessors.
package svcctx

import (
	"context"
	"log/slog"

	"glosspipe/internal/batch"
	"glosspipe/internal/config"
	"glosspipe/internal/costs"
	"glosspipe/internal/importer"
	"glosspipe/internal/progress"
	"glosspipe/internal/providers"
	"glosspipe/internal/safety"
	"glosspipe/internal/store"
)

// Services holds all core services that flow through context.
type Services struct {
	Config    *config.Manager
	Store     *store.Store
	Registry  *providers.Registry
	Safety    *safety.Service
	Estimator *costs.Estimator
	Enforcer  *costs.Enforcer
	Importer  *importer.Importer
	Batches   *batch.Manager
	Tracker   *progress.Tracker
	Logger    *slog.Logger
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StoreFrom extracts the term store from context.
func StoreFrom(ctx context.Context) *store.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// SafetyFrom extracts the safety service from context.
func SafetyFrom(ctx context.Context) *safety.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.Safety
	}
	return nil
}

// BatchManagerFrom extracts the batch operation manager from context.
func BatchManagerFrom(ctx context.Context) *batch.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Batches
	}
	return nil
}

// TrackerFrom extracts the progress tracker from context.
func TrackerFrom(ctx context.Context) *progress.Tracker {
	if s := ServicesFrom(ctx); s != nil {
		return s.Tracker
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}
