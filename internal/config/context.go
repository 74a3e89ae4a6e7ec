package config

import "context"

type snapshotKey struct{}

// WithSnapshot attaches the settings an iteration runs with, so
// collaborators deep in the call chain see the same values.
func WithSnapshot(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, snapshotKey{}, cfg)
}

// SnapshotFromContext returns the settings attached by WithSnapshot.
func SnapshotFromContext(ctx context.Context) (Config, bool) {
	cfg, ok := ctx.Value(snapshotKey{}).(Config)
	return cfg, ok
}
