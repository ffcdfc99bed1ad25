// Package retry re-runs failed operations with backoff.
//
// Only errors that DefaultRetryIf accepts are retried: transport failures with
// a network error, 429 or 5xx status. Everything else returns immediately.
//
//	data, err := retry.DoWithResult(ctx, func(ctx context.Context) ([]byte, error) {
//		return fetcher.FetchArchive(ctx, id)
//	}, &retry.Config{MaxAttempts: 3, Backoff: retry.DefaultExponentialBackoff()})
package retry
