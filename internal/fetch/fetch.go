package fetch

import (
	"context"

	"github.com/nao1215/spindle/internal/model"
)

// Fetcher retrieves one page per call. Implementations must classify
// every failure into the model.ErrorKind taxonomy and return it inside
// the outcome: a Fetcher never returns a Go error and never panics
// across this boundary.
type Fetcher interface {
	Fetch(ctx context.Context, task model.CrawlTask) model.FetchOutcome
}
