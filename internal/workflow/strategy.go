package workflow

import (
	"time"

	"sharepipe/internal/config"
	"sharepipe/internal/fetch"
	"sharepipe/internal/shares"
	"sharepipe/internal/textutil"
)

// Strategy fixes which phases a content type runs and how. The set is closed;
// classification picks one variant per share at fetch time and the choice is
// persisted with the share.
type Strategy struct {
	ContentType    shares.ContentType
	Downloads      bool
	ReducedQuality bool
	CaptionsFirst  bool
	Transcribes    bool
	Summarizes     bool
}

var strategies = map[shares.ContentType]Strategy{
	shares.ContentMusic: {
		ContentType: shares.ContentMusic,
	},
	shares.ContentShort: {
		ContentType:    shares.ContentShort,
		Downloads:      true,
		ReducedQuality: true,
		Transcribes:    true,
		Summarizes:     true,
	},
	shares.ContentEducational: {
		ContentType:   shares.ContentEducational,
		Downloads:     true,
		CaptionsFirst: true,
		Transcribes:   true,
		Summarizes:    true,
	},
	shares.ContentLong: {
		ContentType:   shares.ContentLong,
		Downloads:     true,
		CaptionsFirst: true,
		Transcribes:   true,
		Summarizes:    true,
	},
	shares.ContentGeneric: {
		ContentType: shares.ContentGeneric,
		Summarizes:  true,
	},
}

// StrategyFor returns the strategy variant for a content type, defaulting to
// generic for anything unrecognized.
func StrategyFor(contentType shares.ContentType) Strategy {
	if s, ok := strategies[contentType]; ok {
		return s
	}
	return strategies[shares.ContentGeneric]
}

// Phases returns the phases this strategy actually runs, in order.
func (s Strategy) Phases() []shares.Phase {
	phases := make([]shares.Phase, 0, 4)
	if s.Downloads {
		phases = append(phases, shares.PhaseDownload)
	}
	if s.Transcribes {
		phases = append(phases, shares.PhaseTranscription)
	}
	if s.Summarizes {
		phases = append(phases, shares.PhaseSummary)
	}
	// Every strategy ends with an embedding; for music it is satisfied by
	// the fast track alone.
	if s.ContentType != shares.ContentMusic {
		phases = append(phases, shares.PhaseEmbedding)
	}
	return phases
}

// Skips reports whether this strategy never runs the given phase.
func (s Strategy) Skips(phase shares.Phase) bool {
	switch phase {
	case shares.PhaseDownload:
		return !s.Downloads
	case shares.PhaseTranscription:
		return !s.Transcribes
	case shares.PhaseSummary:
		return !s.Summarizes
	case shares.PhaseEmbedding:
		return s.ContentType == shares.ContentMusic
	}
	return false
}

// shortFormMaxSeconds separates short-form video from standard length.
const shortFormMaxSeconds = 180

// longFormMinSeconds marks where content gets the long-form timeout budget.
const longFormMinSeconds = 20 * 60

var educationalMarkers = []string{
	"lecture", "tutorial", "course", "how to", "explained", "lesson",
}

// Classify decides the content type from fetch metadata. Platform hints win
// over duration heuristics; anything without media is generic text.
func Classify(platform string, result *fetch.Result) shares.ContentType {
	if result.MediaURL == "" && result.DurationSeconds == 0 {
		return shares.ContentGeneric
	}
	if result.AudioOnly {
		return shares.ContentMusic
	}
	if textutil.ContainsAny(textutil.NormalizeTitle(result.Title), educationalMarkers) {
		return shares.ContentEducational
	}
	switch {
	case result.DurationSeconds > 0 && result.DurationSeconds <= shortFormMaxSeconds:
		return shares.ContentShort
	case platform == "tiktok":
		return shares.ContentShort
	case result.DurationSeconds >= longFormMinSeconds:
		return shares.ContentLong
	}
	return shares.ContentLong
}

// PhaseTimeout returns the deadline budget for one phase of the given
// content type.
func PhaseTimeout(cfg *config.Config, contentType shares.ContentType) time.Duration {
	minutes := cfg.Workflow.StandardTimeoutMinutes
	switch contentType {
	case shares.ContentMusic:
		minutes = cfg.Workflow.MusicTimeoutMinutes
	case shares.ContentShort:
		minutes = cfg.Workflow.ShortTimeoutMinutes
	case shares.ContentLong, shares.ContentEducational:
		minutes = cfg.Workflow.LongTimeoutMinutes
	}
	return time.Duration(minutes) * time.Minute
}
