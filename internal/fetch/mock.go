package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/nao1215/spindle/internal/model"
)

// MockFetcher is a deterministic Fetcher for tests. Each URL is
// scripted with a sequence of outcomes consumed one per attempt; the
// last outcome repeats once the script runs out. Unscripted URLs get
// the fallback outcome.
type MockFetcher struct {
	mu       sync.Mutex
	scripts  map[string][]model.FetchOutcome
	attempts map[string]int
	calls    []string

	// Fallback produces the outcome for unscripted URLs. Nil means a
	// plain success with no links.
	Fallback func(task model.CrawlTask) model.FetchOutcome

	// Delay is slept on every fetch to simulate network latency.
	Delay time.Duration
}

// NewMockFetcher creates an empty mock fetcher.
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		scripts:  make(map[string][]model.FetchOutcome),
		attempts: make(map[string]int),
	}
}

// Script sets the outcome sequence for a URL.
func (m *MockFetcher) Script(url string, outcomes ...model.FetchOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[url] = outcomes
}

// Fetch returns the next scripted outcome for the task's URL.
func (m *MockFetcher) Fetch(ctx context.Context, task model.CrawlTask) model.FetchOutcome {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return RetryOutcome(model.ErrorKindNetwork)
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, task.URL)
	attempt := m.attempts[task.URL]
	m.attempts[task.URL]++
	script, scripted := m.scripts[task.URL]
	m.mu.Unlock()

	if scripted && len(script) > 0 {
		if attempt >= len(script) {
			attempt = len(script) - 1
		}
		outcome := script[attempt]
		if outcome.FetchedAt.IsZero() {
			outcome.FetchedAt = time.Now()
		}
		return outcome
	}

	if m.Fallback != nil {
		return m.Fallback(task)
	}
	return SuccessOutcome("page at " + task.URL)
}

// Attempts returns how many times a URL has been fetched.
func (m *MockFetcher) Attempts(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[url]
}

// Calls returns every fetched URL in call order.
func (m *MockFetcher) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// SuccessOutcome builds a successful outcome with the given text and
// discovered links, hashes included.
func SuccessOutcome(text string, links ...string) model.FetchOutcome {
	outcome := model.FetchOutcome{
		Status:          model.StatusSuccess,
		HTTPStatus:      200,
		ContentType:     "text/html",
		Text:            model.NormalizeText(text),
		DiscoveredLinks: links,
		FetchedAt:       time.Now(),
	}
	outcome.ComputeHashes()
	return outcome
}

// RetryOutcome builds a retryable failure of the given kind.
func RetryOutcome(kind model.ErrorKind) model.FetchOutcome {
	return model.FetchOutcome{
		Status:    model.StatusRetry,
		ErrorKind: kind,
		Retryable: true,
		FetchedAt: time.Now(),
	}
}

// FailedOutcome builds a permanent failure of the given kind.
func FailedOutcome(kind model.ErrorKind, httpStatus int) model.FetchOutcome {
	return model.FetchOutcome{
		Status:     model.StatusFailed,
		ErrorKind:  kind,
		HTTPStatus: httpStatus,
		FetchedAt:  time.Now(),
	}
}
