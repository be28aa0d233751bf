package tangle

import (
	"log/slog"
	"os"
	"time"

	"github.com/tangledb/tangle/pkg/collaborator"
	"github.com/tangledb/tangle/pkg/item"
)

// Config configures a Tangle instance. Only Paths[0] is used at the
// moment; future versions may use multiple paths for sharding or tiering.
type Config struct {
	// Paths contains data directories. Currently only Paths[0] is used.
	Paths []string
	// Perspectives declares the remote perspectives this engine accepts
	// writes for; each gets its own tree (spec.md §4.G).
	Perspectives []item.Perspective
	// VSize is the version byte width used for content-hash version
	// generation (spec.md §4.G "Version generation").
	VSize int
	// QueueLimit and QueueLimitRetryTimeout configure the writer
	// pipeline's per-perspective ingress queues (spec.md §5, §6.4).
	QueueLimit             int
	QueueLimitRetryTimeout time.Duration
	// AutoProcessInterval, if positive, runs MergeWithLocal for every
	// declared perspective on this cadence instead of requiring the
	// application to call it explicitly.
	AutoProcessInterval time.Duration
	// ProceedOnError, when set, skips a failing id instead of aborting
	// its whole batch (spec.md §7).
	ProceedOnError bool
	// MinimumFreeGB is a free-space threshold for on-disk operations.
	MinimumFreeGB uint
	// Store is the companion plain document store synced on every new
	// local head. May be nil to skip syncing.
	Store collaborator.PlainStore
	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger
}

// defaultLogger returns a logger that writes text logs to stderr at Info level.
// Applications can inject their own slog.Logger for JSON, different levels, etc.
func defaultLogger() *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}
