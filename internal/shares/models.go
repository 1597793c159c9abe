package shares

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a share.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFetching   Status = "fetching"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusFetching,
	StatusDone,
	StatusError,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// inFlightStatuses are statuses a worker holds while a job is executing.
var inFlightStatuses = map[Status]struct{}{
	StatusProcessing: {},
	StatusFetching:   {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsInFlightStatus reports whether a status reflects an in-flight operation.
func IsInFlightStatus(status Status) bool {
	_, ok := inFlightStatuses[status]
	return ok
}

// WorkflowState tracks a share's position in the enhancement pipeline.
type WorkflowState string

const (
	StateNone                WorkflowState = ""
	StateFetched             WorkflowState = "fetched"
	StateFastEmbeddingQueued WorkflowState = "fast_embedding_queued"
	StateEnhancementSelected WorkflowState = "enhancement_selected"
	StateDownloading         WorkflowState = "downloading"
	StateTranscribing        WorkflowState = "transcribing"
	StateSummarizing         WorkflowState = "summarizing"
	StateEmbedding           WorkflowState = "embedding"
	StateDone                WorkflowState = "done"
)

// FailedState returns the terminal workflow state for a failed phase.
func FailedState(phase Phase) WorkflowState {
	return WorkflowState("failed_" + string(phase))
}

// IsFailedState reports whether a workflow state is a failed_<phase> branch.
func IsFailedState(state WorkflowState) bool {
	return strings.HasPrefix(string(state), "failed_")
}

// UserTier is the product tier of the submitting user.
type UserTier string

const (
	TierPremium  UserTier = "premium"
	TierStandard UserTier = "standard"
	TierFree     UserTier = "free"
)

// PriorityTier is the scheduling class derived from a user tier.
type PriorityTier string

const (
	PriorityHigh   PriorityTier = "high"
	PriorityNormal PriorityTier = "normal"
	PriorityLow    PriorityTier = "low"
)

// AllPriorityTiers returns tiers in descending scheduling priority.
func AllPriorityTiers() []PriorityTier {
	return []PriorityTier{PriorityHigh, PriorityNormal, PriorityLow}
}

// PriorityForUserTier maps a user tier onto its scheduling class.
func PriorityForUserTier(tier UserTier) PriorityTier {
	switch tier {
	case TierPremium:
		return PriorityHigh
	case TierStandard:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// ParseUserTier converts a string into a known UserTier, defaulting to free.
func ParseUserTier(value string) UserTier {
	switch UserTier(strings.ToLower(strings.TrimSpace(value))) {
	case TierPremium:
		return TierPremium
	case TierStandard:
		return TierStandard
	default:
		return TierFree
	}
}

// ContentType is the enhancement strategy class selected after fetch.
type ContentType string

const (
	ContentUnknown     ContentType = ""
	ContentMusic       ContentType = "music"
	ContentShort       ContentType = "short"
	ContentEducational ContentType = "educational"
	ContentLong        ContentType = "long"
	ContentGeneric     ContentType = "generic"
)

// Share represents a user submission persisted in SQLite.
type Share struct {
	ID              string
	UserID          string
	URL             string
	Platform        string
	UserTier        UserTier
	ContentType     ContentType
	Status          Status
	WorkflowState   WorkflowState
	Title           string
	Description     string
	MediaURL        string
	HasCaptions     bool
	DurationSeconds int
	ErrorCode       string
	ErrorMessage    string
	Attempts        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastHeartbeat   *time.Time
}

// Priority returns the scheduling tier for this share's owner.
func (s *Share) Priority() PriorityTier {
	return PriorityForUserTier(s.UserTier)
}

// IsInFlight returns true when the share is held by a worker.
func (s *Share) IsInFlight() bool {
	return IsInFlightStatus(s.Status)
}

// SetError marks the share as errored with a stable code and message.
func (s *Share) SetError(code, message string) {
	s.Status = StatusError
	s.ErrorCode = code
	s.ErrorMessage = message
	s.LastHeartbeat = nil
}

// HealthSummary describes aggregated share counts per key lifecycle states.
type HealthSummary struct {
	Total    int
	Pending  int
	InFlight int
	Done     int
	Errored  int
}
