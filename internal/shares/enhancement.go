package shares

import "time"

// Phase identifies one step of the deep enhancement pipeline.
type Phase string

const (
	PhaseDownload      Phase = "download"
	PhaseTranscription Phase = "transcription"
	PhaseSummary       Phase = "summary"
	PhaseEmbedding     Phase = "embedding"
)

// AllPhases returns phases in documented execution order.
func AllPhases() []Phase {
	return []Phase{PhaseDownload, PhaseTranscription, PhaseSummary, PhaseEmbedding}
}

// PhaseStatus is the persisted state of one enhancement phase.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseProcessing PhaseStatus = "processing"
	PhaseSkipped    PhaseStatus = "skipped"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
)

// CanTransition reports whether a phase status move is legal. Phase statuses
// only move forward; failed may return to processing via explicit retry.
func CanTransition(from, to PhaseStatus) bool {
	switch from {
	case PhasePending:
		return to == PhaseProcessing || to == PhaseSkipped
	case PhaseProcessing:
		return to == PhaseCompleted || to == PhaseFailed
	case PhaseFailed:
		return to == PhaseProcessing
	default:
		return false
	}
}

// IsTerminal reports whether a phase status admits no further transitions
// short of an explicit retry.
func (s PhaseStatus) IsTerminal() bool {
	return s == PhaseCompleted || s == PhaseSkipped
}

// EnhancementRecord tracks per-phase progress for a share's deep processing.
// The workflow controller is the record's single writer.
type EnhancementRecord struct {
	ShareID             string
	Download            PhaseStatus
	Transcription       PhaseStatus
	Summary             PhaseStatus
	Embedding           PhaseStatus
	RetryCount          int
	LastError           string
	ActivePhase         Phase
	ActiveCorrelationID string
	FastEmbeddedAt      *time.Time
	EnhancedEmbeddedAt  *time.Time
	EmbeddingsGenerated int
	ChaptersGenerated   int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PhaseStatusFor returns the stored status for the named phase.
func (r *EnhancementRecord) PhaseStatusFor(phase Phase) PhaseStatus {
	switch phase {
	case PhaseDownload:
		return r.Download
	case PhaseTranscription:
		return r.Transcription
	case PhaseSummary:
		return r.Summary
	case PhaseEmbedding:
		return r.Embedding
	default:
		return ""
	}
}

// SetPhaseStatus stores the status for the named phase without validation;
// callers are expected to have checked CanTransition first.
func (r *EnhancementRecord) SetPhaseStatus(phase Phase, status PhaseStatus) {
	switch phase {
	case PhaseDownload:
		r.Download = status
	case PhaseTranscription:
		r.Transcription = status
	case PhaseSummary:
		r.Summary = status
	case PhaseEmbedding:
		r.Embedding = status
	}
}

// ActiveEnhancement pairs an in-flight enhancement record with the share
// fields the timeout sweep needs.
type ActiveEnhancement struct {
	Record      *EnhancementRecord
	ContentType ContentType
	Platform    string
	UserID      string
	UserTier    UserTier
}
