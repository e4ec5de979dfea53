package device

import "context"

// ProgressFunc receives progress updates of long running device operations.
//
// Callbacks run on the caller's goroutine and must not call back into the
// component that started the operation.
type ProgressFunc func(current, total int)

// Client is the view of a flight controller connection the synchronization
// engine depends on.
//
// Implementations own the wire protocol and the local parameter cache.
// CachedParameters returns the values known from the last download or write;
// after ResetAndReconnect the cache is stale until DownloadParameters has
// refreshed it. DownloadParameters must update the cache before returning.
// All blocking calls honour ctx cancellation.
type Client interface {
	IsConnected() bool
	CachedParameters() map[string]float64
	SetParameter(ctx context.Context, name string, value float64) error
	ResetAndReconnect(ctx context.Context, progress ProgressFunc, settleSeconds int) error
	DownloadParameters(ctx context.Context, progress ProgressFunc) (values map[string]float64, defaults map[string]float64, err error)
}
