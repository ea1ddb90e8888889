// Package assist is the language-model surface of the conversation: intent
// classification with entity extraction, and free-form answer generation.
package assist

import (
	"context"
	"regexp"

	"github.com/casavox/casavox/pkg/tools"
)

type Intent string

const (
	IntentSearchProperties Intent = "search_properties"
	IntentNeighborhoodInfo Intent = "neighborhood_info"
	IntentMarketAnalysis   Intent = "market_analysis"
	IntentBuyingProcess    Intent = "buying_process"
	IntentMortgageCalc     Intent = "mortgage_calc"
	IntentScheduleViewing  Intent = "schedule_viewing"
	IntentLeadCapture      Intent = "lead_capture"
	IntentGeneralFAQ       Intent = "general_faq"
	IntentHandoffAgent     Intent = "handoff_agent"
)

// Classification pairs the routed intent with whatever structured entities
// the model pulled out of the utterance.
type Classification struct {
	Intent   Intent
	Entities tools.Entities

	// Slots beyond search constraints, e.g. name/phone/when/rate.
	Slots map[string]any
}

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AnswerRequest struct {
	System  string
	History []Turn
	Message string
	// Context carries retrieved listing snippets, already formatted.
	Context string
	Lang    string
}

// Provider is implemented by the OpenAI-compatible client and test fakes.
type Provider interface {
	// Classify never fails hard: on model trouble it falls back to a
	// keyword heuristic with zero-value entities.
	Classify(ctx context.Context, utterance string) (Classification, error)
	Answer(ctx context.Context, req AnswerRequest) (string, error)
}

var searchHeuristic = regexp.MustCompile(`(?i)(bed|bath|sqft|price|budget|under|over|above|below|million|\bk\b|pool|in\s+[a-z])`)

// heuristicClassification routes without a model: utterances that smell
// like a listing search go to search, everything else to FAQ.
func heuristicClassification(utterance string) Classification {
	intent := IntentGeneralFAQ
	if searchHeuristic.MatchString(utterance) {
		intent = IntentSearchProperties
	}
	return Classification{Intent: intent, Slots: map[string]any{}}
}
