package agent

import (
	"context"
	"log/slog"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/media"
)

// Decision is the routing outcome for one inbound message. For PipelineNone,
// Reply holds the fixed text to send and Outcome says why.
type Decision struct {
	Pipeline domain.Pipeline
	Text     string        // text pipeline input
	Media    *domain.Media // fetched payload for vision and transcription
	Caption  string        // text that arrived alongside an attachment
	Reply    string
	Outcome  domain.Outcome
}

type RouterConfig struct {
	Timeout             time.Duration // bounds the media download
	UnsupportedReply    string
	DownloadFailedReply string
	Logger              *slog.Logger
}

// Router picks the pipeline for a message. An attachment always wins over
// the message text.
type Router struct {
	timeout             time.Duration
	unsupportedReply    string
	downloadFailedReply string
	logger              *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCallTimeout
	}
	return &Router{
		timeout:             cfg.Timeout,
		unsupportedReply:    cfg.UnsupportedReply,
		downloadFailedReply: cfg.DownloadFailedReply,
		logger:              cfg.Logger,
	}
}

// Route never fails: download problems and unknown types become fixed replies.
func (r *Router) Route(ctx context.Context, msg domain.InboundMessage) Decision {
	if !msg.HasAttachment() {
		return Decision{Pipeline: domain.PipelineText, Text: msg.Content}
	}
	att := msg.Attachment

	// A declared type we cannot handle is rejected before any download.
	if att.MimeType != "" && media.Classify(att.MimeType) == media.KindOther {
		return r.unsupported(msg, att.MimeType)
	}

	fetched, err := r.fetch(ctx, att)
	if err != nil {
		r.logger.Warn("media download failed",
			"msg_id", msg.ID,
			"user", msg.UserKey(),
			"declared_mime", att.MimeType,
			"err", err,
		)
		return Decision{
			Pipeline: domain.PipelineNone,
			Reply:    r.downloadFailedReply,
			Outcome:  domain.OutcomeDownloadFailed,
		}
	}

	effective := fetched.MimeType
	if effective == "" {
		effective = att.MimeType
	}
	fetched.MimeType = media.BaseType(effective)
	if fetched.Filename == "" {
		fetched.Filename = att.Filename
	}

	switch media.Classify(fetched.MimeType) {
	case media.KindImage:
		return Decision{Pipeline: domain.PipelineVision, Media: fetched, Caption: msg.Content}
	case media.KindAudio:
		return Decision{Pipeline: domain.PipelineTranscription, Media: fetched, Caption: msg.Content}
	default:
		return r.unsupported(msg, effective)
	}
}

func (r *Router) fetch(ctx context.Context, att *domain.Attachment) (*domain.Media, error) {
	if att.Fetch == nil {
		return nil, errNoFetcher
	}
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	m, err := att.Fetch(fetchCtx)
	if err != nil {
		return nil, err
	}
	if m == nil || len(m.Data) == 0 {
		return nil, errEmptyMedia
	}
	return m, nil
}

func (r *Router) unsupported(msg domain.InboundMessage, mimeType string) Decision {
	r.logger.Info("unsupported media type", "msg_id", msg.ID, "user", msg.UserKey(), "mime", mimeType)
	return Decision{
		Pipeline: domain.PipelineNone,
		Reply:    r.unsupportedReply,
		Outcome:  domain.OutcomeUnsupported,
	}
}
