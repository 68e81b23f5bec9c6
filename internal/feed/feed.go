package feed

import (
	"context"

	"stake-hedge-watcher/internal/oracle"
)

// QuoteFetcher retrieves a single oracle quote for the watched asset.
type QuoteFetcher interface {
	FetchQuote(ctx context.Context) (oracle.Quote, error)
}
