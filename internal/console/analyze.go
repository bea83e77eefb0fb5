// Package console holds the agent and admin controllers of the triage
// console. Controllers are stateless: each call performs one backend
// exchange and returns a view for the caller to render.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"

	"github.com/samber/lo"

	"github.com/TobiSchelling/triagedesk/internal/backend"
	"github.com/TobiSchelling/triagedesk/internal/triage"
)

// Placeholder is shown for fields the analysis left empty.
const Placeholder = "—"

const (
	StatusChooseFile       = "Choose a file first."
	StatusAnalysisComplete = "Analysis complete"
	StatusAnalysisFailed   = "Analysis failed"
	StatusContactError     = "Error contacting server"
	StatusFeedbackSaved    = "Feedback saved"
	StatusFeedbackFailed   = "Failed to save feedback"
	StatusNetworkError     = "Network error"
)

// AnalysisBackend is the part of the backend the agent page uses.
type AnalysisBackend interface {
	Analyze(ctx context.Context, filename string, file io.Reader) (*triage.AnalysisResult, error)
	SubmitFeedback(ctx context.Context, payload triage.FeedbackPayload) error
}

// Upload is a ticket file chosen by the agent.
type Upload struct {
	Filename string
	Body     io.Reader
}

// FeedbackForm holds the raw values of the feedback form.
type FeedbackForm struct {
	OriginalText  string
	FinalCategory string
	FinalTags     string
	FinalPriority string
	AgentNote     string
}

// Payload builds the JSON payload sent to the backend.
func (f FeedbackForm) Payload() triage.FeedbackPayload {
	return triage.FeedbackPayload{
		OriginalText:  f.OriginalText,
		FinalCategory: f.FinalCategory,
		FinalTags:     triage.ParseTags(f.FinalTags),
		FinalPriority: f.FinalPriority,
		AgentNote:     f.AgentNote,
	}
}

// SimilarView is one rendered similar ticket.
type SimilarView struct {
	Score   string
	Snippet string
}

// ResultView is the rendered analysis. Articles is always displayed, even
// when empty; the similar-tickets section only when ShowSimilar is set.
type ResultView struct {
	Preview     string
	Category    string
	Tags        []string
	Priority    string
	Confidence  string
	Solution    string
	ShowSimilar bool
	Similar     []SimilarView
	Articles    []triage.Article
	AnalyzedAt  string
	ModelError  string
}

// AnalyzeView is the state of the agent page after an action.
type AnalyzeView struct {
	Status         string
	Failed         bool
	Result         *ResultView
	FeedbackStatus string
	FeedbackFailed bool
	Feedback       FeedbackForm
}

// AnalyzeController drives the upload and feedback forms.
type AnalyzeController struct {
	backend AnalysisBackend
}

// NewAnalyzeController creates a controller backed by b.
func NewAnalyzeController(b AnalysisBackend) *AnalyzeController {
	return &AnalyzeController{backend: b}
}

// SubmitAnalysis uploads the ticket and builds the result view. A nil upload
// or one without a filename never reaches the backend.
func (c *AnalyzeController) SubmitAnalysis(ctx context.Context, upload *Upload) AnalyzeView {
	if upload == nil || upload.Filename == "" || upload.Body == nil {
		return AnalyzeView{Status: StatusChooseFile, Failed: true}
	}

	result, err := c.backend.Analyze(ctx, upload.Filename, upload.Body)
	if err != nil {
		log.Printf("Analysis of %s failed: %v", upload.Filename, err)
		return AnalyzeView{Status: failureMessage(err, StatusAnalysisFailed, StatusContactError), Failed: true}
	}

	return AnalyzeView{
		Status:   StatusAnalysisComplete,
		Result:   NewResultView(result),
		Feedback: FeedbackForm{OriginalText: result.UploadedTicket},
	}
}

// SubmitFeedback sends the agent's correction. The form is cleared on
// success and kept on failure so the agent can retry.
func (c *AnalyzeController) SubmitFeedback(ctx context.Context, form FeedbackForm) AnalyzeView {
	if err := c.backend.SubmitFeedback(ctx, form.Payload()); err != nil {
		log.Printf("Feedback submission failed: %v", err)
		return AnalyzeView{
			FeedbackStatus: failureMessage(err, StatusFeedbackFailed, StatusNetworkError),
			FeedbackFailed: true,
			Feedback:       form,
		}
	}
	return AnalyzeView{FeedbackStatus: StatusFeedbackSaved}
}

// NewResultView maps an analysis onto its rendered form.
func NewResultView(r *triage.AnalysisResult) *ResultView {
	v := &ResultView{
		Preview:    r.UploadedTicket,
		Category:   orPlaceholder(r.Category),
		Tags:       r.Tags,
		Priority:   orPlaceholder(r.SuggestedPriority),
		Confidence: Placeholder,
		Solution:   orPlaceholder(r.Solution),
		Articles:   r.RecommendedArticles,
		AnalyzedAt: r.AnalyzedAt,
		ModelError: r.ModelError,
	}
	if r.Confidence != 0 {
		v.Confidence = strconv.FormatFloat(r.Confidence, 'f', -1, 64)
	}

	v.Similar = lo.Map(r.SimilarTickets, func(s triage.SimilarTicket, _ int) SimilarView {
		return SimilarView{Score: fmt.Sprintf("%.3f", s.Similarity), Snippet: s.Snippet}
	})
	v.ShowSimilar = len(v.Similar) > 0
	return v
}

// failureMessage returns the backend's own message for server-reported
// failures, serverFallback when it gave none, and transportMsg otherwise.
func failureMessage(err error, serverFallback, transportMsg string) string {
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &apiErr):
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return serverFallback
	case errors.Is(err, backend.ErrUnauthorized):
		return serverFallback
	default:
		return transportMsg
	}
}

func orPlaceholder(s string) string {
	if s == "" {
		return Placeholder
	}
	return s
}
