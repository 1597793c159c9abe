package workflow

import (
	"sharepipe/internal/broker"
	"sharepipe/internal/shares"
)

// TaskResult is the inbound ML result callback. The correlation identifier
// ties it back to the phase publish that requested the work; results with a
// stale correlation are ignored rather than applied.
type TaskResult struct {
	ShareID             string          `json:"share_id"`
	Kind                broker.TaskKind `json:"kind"`
	CorrelationID       string          `json:"correlation_id"`
	Succeeded           bool            `json:"succeeded"`
	ErrorCode           string          `json:"error_code,omitempty"`
	ErrorMessage        string          `json:"error_message,omitempty"`
	Transcript          string          `json:"transcript,omitempty"`
	Summary             string          `json:"summary,omitempty"`
	EmbeddingsGenerated int             `json:"embeddings_generated,omitempty"`
	ChaptersGenerated   int             `json:"chapters_generated,omitempty"`
}

// ErrCodeCaptionsUnusable marks a transcription result whose platform
// captions existed but could not be extracted; the controller falls back to
// the download path instead of burning a retry.
const ErrCodeCaptionsUnusable = "captions_unusable"

// PhaseForKind maps a task kind onto the enhancement phase it advances.
// The fast-track embedding has no phase; it only stamps the record.
func PhaseForKind(kind broker.TaskKind) (shares.Phase, bool) {
	switch kind {
	case broker.TaskTranscribe:
		return shares.PhaseTranscription, true
	case broker.TaskSummarize:
		return shares.PhaseSummary, true
	case broker.TaskEmbed:
		return shares.PhaseEmbedding, true
	}
	return "", false
}

// kindForPhase is the inverse mapping used when publishing.
func kindForPhase(phase shares.Phase) broker.TaskKind {
	switch phase {
	case shares.PhaseTranscription:
		return broker.TaskTranscribe
	case shares.PhaseSummary:
		return broker.TaskSummarize
	default:
		return broker.TaskEmbed
	}
}
