package agent

import (
	"context"
	"errors"
	"time"

	"relaybot/internal/domain"
)

// defaultCallTimeout bounds every external call when no timeout is configured.
const defaultCallTimeout = 60 * time.Second

var (
	errNoFetcher  = errors.New("attachment has no fetcher")
	errEmptyMedia = errors.New("attachment download returned no data")

	errEmptyTranscript = errors.New("transcription returned no text")
)

// Reply is what a gateway hands back: the text to send and how the call ended.
// Gateways never return errors; failures become fallback text.
type Reply struct {
	Text    string
	Outcome domain.Outcome
}

// classify maps a failed call to its outcome and metrics reason.
func classify(err error) (domain.Outcome, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.OutcomeTimeout, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return domain.OutcomeFailed, "canceled"
	}
	return domain.OutcomeFailed, "error"
}
