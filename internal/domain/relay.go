package domain

import "time"

// Pipeline names the path an inbound message took through the relay.
type Pipeline string

const (
	PipelineText          Pipeline = "text"
	PipelineVision        Pipeline = "vision"
	PipelineTranscription Pipeline = "transcription"
	PipelineCommand       Pipeline = "command"
	PipelineNone          Pipeline = "none" // short-circuit reply, no gateway
)

// Outcome classifies how a handled message ended.
type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeEmpty          Outcome = "empty"   // service answered with nothing
	OutcomeFailed         Outcome = "failed"  // external call failed, fallback sent
	OutcomeTimeout        Outcome = "timeout" // external call hit the deadline, fallback sent
	OutcomeUnsupported    Outcome = "unsupported"
	OutcomeDownloadFailed Outcome = "download_failed"
)

// RelayRecord is the metadata of one handled message. It never carries content.
type RelayRecord struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	UserID    string    `json:"user_id"`
	Pipeline  Pipeline  `json:"pipeline"`
	Outcome   Outcome   `json:"outcome"`
	Delivered bool      `json:"delivered"`
	LatencyMs int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}
