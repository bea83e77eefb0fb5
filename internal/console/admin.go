package console

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"

	"github.com/samber/lo"

	"github.com/TobiSchelling/triagedesk/internal/backend"
	"github.com/TobiSchelling/triagedesk/internal/triage"
)

// AuthPrompt is shown whenever the backend rejects the admin credentials.
const AuthPrompt = "Authentication required. Open /admin in this browser and sign in, then try again."

const (
	StatusNoLogs         = "No logs found"
	StatusNoFeedback     = "No feedback rows"
	StatusNoGaps         = "No content gaps recorded yet."
	StatusMissingExcerpt = "Missing ticket text"
	StatusArticleFailed  = "Article generation failed"
)

// AdminBackend is the part of the backend the admin page uses.
type AdminBackend interface {
	Logs(ctx context.Context, creds backend.Credentials) ([]triage.LogEntry, error)
	Feedback(ctx context.Context, creds backend.Credentials) ([]triage.FeedbackRow, error)
	Gaps(ctx context.Context, creds backend.Credentials) ([]triage.Gap, error)
	DownloadURL(kind triage.DownloadKind) string
	Download(ctx context.Context, creds backend.Credentials, kind triage.DownloadKind, w io.Writer) (int64, error)
	GenerateArticle(ctx context.Context, creds backend.Credentials, excerpt string) (string, error)
}

// SectionState is the outcome of loading an admin section.
type SectionState int

const (
	SectionLoaded SectionState = iota
	SectionEmpty
	SectionUnauthorized
	SectionFailed
)

// LogView is one rendered LLM log entry.
type LogView struct {
	Heading string
	Input   string
	Output  string
}

// TableView is a rendered feedback table.
type TableView struct {
	Columns []string
	Rows    [][]string
}

// Section is a loaded admin viewer. Message is set for the empty and failed
// states.
type Section struct {
	State   SectionState
	Message string
	Logs    []LogView
	Table   *TableView
	Gaps    []triage.Gap
}

func (s Section) Loaded() bool       { return s.State == SectionLoaded }
func (s Section) Empty() bool        { return s.State == SectionEmpty }
func (s Section) Unauthorized() bool { return s.State == SectionUnauthorized }
func (s Section) Failed() bool       { return s.State == SectionFailed }

// Text returns the section's status line for plain-text output.
func (s Section) Text() string {
	switch s.State {
	case SectionUnauthorized:
		return AuthPrompt
	case SectionFailed:
		return "Error: " + s.Message
	default:
		return s.Message
	}
}

// AdminController drives the admin log and feedback viewers.
type AdminController struct {
	backend AdminBackend
}

// NewAdminController creates a controller backed by b.
func NewAdminController(b AdminBackend) *AdminController {
	return &AdminController{backend: b}
}

// LoadLogs fetches the LLM call log.
func (c *AdminController) LoadLogs(ctx context.Context, creds backend.Credentials) Section {
	entries, err := c.backend.Logs(ctx, creds)
	if err != nil {
		return failedSection("logs", err)
	}
	if len(entries) == 0 {
		return Section{State: SectionEmpty, Message: StatusNoLogs}
	}

	logs := lo.Map(entries, func(e triage.LogEntry, _ int) LogView {
		return LogView{
			Heading: e.Timestamp + " — " + e.Model,
			Input:   e.InputPreview(200),
			Output:  e.Output(),
		}
	})
	return Section{State: SectionLoaded, Logs: logs}
}

// LoadFeedback fetches the stored feedback rows as a table whose columns
// come from the first row.
func (c *AdminController) LoadFeedback(ctx context.Context, creds backend.Credentials) Section {
	rows, err := c.backend.Feedback(ctx, creds)
	if err != nil {
		return failedSection("feedback", err)
	}
	if len(rows) == 0 {
		return Section{State: SectionEmpty, Message: StatusNoFeedback}
	}

	columns := rows[0].Columns
	table := &TableView{Columns: columns}
	for _, row := range rows {
		table.Rows = append(table.Rows, lo.Map(columns, func(col string, _ int) string {
			return row.Cell(col)
		}))
	}
	return Section{State: SectionLoaded, Table: table}
}

// LoadGaps fetches the tickets that had no matching knowledge-base article.
func (c *AdminController) LoadGaps(ctx context.Context, creds backend.Credentials) Section {
	gaps, err := c.backend.Gaps(ctx, creds)
	if err != nil {
		return failedSection("gaps", err)
	}
	if len(gaps) == 0 {
		return Section{State: SectionEmpty, Message: StatusNoGaps}
	}
	return Section{State: SectionLoaded, Gaps: gaps}
}

// DownloadURL resolves a download file name to the backend URL serving it.
func (c *AdminController) DownloadURL(name string) (string, error) {
	kind, err := triage.ParseDownloadKind(name)
	if err != nil {
		return "", err
	}
	return c.backend.DownloadURL(kind), nil
}

// Download streams a downloadable file from the backend into w.
func (c *AdminController) Download(ctx context.Context, creds backend.Credentials, kind triage.DownloadKind, w io.Writer) (int64, error) {
	return c.backend.Download(ctx, creds, kind, w)
}

// GenerateArticle asks the backend to draft a knowledge-base article for a
// ticket with no matching article and returns the status line to show.
func (c *AdminController) GenerateArticle(ctx context.Context, creds backend.Credentials, excerpt string) (string, bool) {
	excerpt = strings.TrimSpace(excerpt)
	if excerpt == "" {
		return StatusMissingExcerpt, false
	}

	msg, err := c.backend.GenerateArticle(ctx, creds, excerpt)
	if err != nil {
		log.Printf("Article generation failed: %v", err)
		if errors.Is(err, backend.ErrUnauthorized) {
			return AuthPrompt, false
		}
		return failureMessage(err, StatusArticleFailed, StatusNetworkError), false
	}
	return msg, true
}

func failedSection(what string, err error) Section {
	if errors.Is(err, backend.ErrUnauthorized) {
		return Section{State: SectionUnauthorized}
	}
	log.Printf("Loading %s failed: %v", what, err)

	msg := err.Error()
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		msg = apiErr.Message
	}
	return Section{State: SectionFailed, Message: msg}
}
