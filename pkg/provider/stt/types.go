package stt

import "time"

// Transcript is one recognition result, interim or final.
type Transcript struct {
	// Text is the segment text. For partials it is the provider's current
	// guess for the segment in progress, not the whole utterance.
	Text string

	IsFinal bool

	// Confidence is between 0 and 1, zero when the provider does not report
	// one.
	Confidence float64

	// Words holds per-word detail when the provider reports it.
	Words []WordDetail
}

// WordDetail holds per-word timing.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost is a vocabulary hint with a provider-specific intensity.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}
