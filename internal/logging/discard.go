package logging

import "context"

// Discard is a Logger that drops everything. Useful as a default so callers
// are never forced to wire logging just to construct an engine.
type Discard struct{}

func (Discard) Debug(ctx context.Context, msg string, args ...any) {}
func (Discard) Info(ctx context.Context, msg string, args ...any)  {}
func (Discard) Warn(ctx context.Context, msg string, args ...any)  {}
func (Discard) Error(ctx context.Context, msg string, args ...any) {}
func (Discard) With(args ...any) Logger                            { return Discard{} }
