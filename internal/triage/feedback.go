package triage

import (
	"strings"

	"github.com/samber/lo"
)

// FeedbackPayload is an agent's correction of an analysis, as sent to /feedback.
type FeedbackPayload struct {
	OriginalText  string   `json:"original_text"`
	FinalCategory string   `json:"final_category"`
	FinalTags     []string `json:"final_tags"`
	FinalPriority string   `json:"final_priority"`
	AgentNote     string   `json:"agent_note"`
}

// ParseTags splits a comma separated tag field, trimming whitespace and
// dropping empty entries. It never returns nil.
func ParseTags(raw string) []string {
	tags := lo.Map(strings.Split(raw, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	return lo.Compact(tags)
}
