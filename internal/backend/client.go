package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/TobiSchelling/triagedesk/internal/triage"
)

// ErrUnauthorized is returned when the backend answers 401.
var ErrUnauthorized = errors.New("authentication required")

// APIError is a non-200 backend response. Message is the body's "error"
// field and may be empty.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// Credentials are HTTP Basic credentials for the admin endpoints.
type Credentials struct {
	User     string
	Password string
}

func (c Credentials) IsZero() bool {
	return c.User == "" && c.Password == ""
}

// Client talks to the triage backend.
type Client struct {
	BaseURL string
	client  *http.Client
}

// NewClient creates a backend client. A zero timeout disables it.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Analyze uploads a ticket file for analysis.
func (c *Client) Analyze(ctx context.Context, filename string, file io.Reader) (*triage.AnalysisResult, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", mimetype.Detect(data).String())
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("creating multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("writing multipart part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/analyze", &body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req, Credentials{})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading analysis: %w", err)
	}
	return triage.DecodeAnalysis(respBody)
}

// SubmitFeedback sends an agent's correction.
func (c *Client) SubmitFeedback(ctx context.Context, payload triage.FeedbackPayload) error {
	resp, err := c.postJSON(ctx, "/feedback", payload, Credentials{})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Logs returns the recent LLM call log, newest first.
func (c *Client) Logs(ctx context.Context, creds Credentials) ([]triage.LogEntry, error) {
	var entries []triage.LogEntry
	if err := c.getJSON(ctx, "/admin/logs", creds, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Feedback returns the stored feedback rows.
func (c *Client) Feedback(ctx context.Context, creds Credentials) ([]triage.FeedbackRow, error) {
	var rows []triage.FeedbackRow
	if err := c.getJSON(ctx, "/admin/feedback", creds, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Gaps returns the recorded content gaps. The backend only serves them as an
// HTML page, so the table is scraped from it.
func (c *Client) Gaps(ctx context.Context, creds Credentials) ([]triage.Gap, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/admin/gaps", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := c.do(req, creds)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return parseGaps(resp.Body)
}

// parseGaps reads the first table of the gaps page, locating the columns by
// their header text. A page without a table has no gaps.
func parseGaps(r io.Reader) ([]triage.Gap, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing gaps page: %w", err)
	}

	gaps := []triage.Gap{}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return gaps, nil
	}

	var columns []string
	table.Find("thead th").Each(func(_ int, th *goquery.Selection) {
		columns = append(columns, strings.TrimSpace(th.Text()))
	})
	tsCol := lo.IndexOf(columns, "timestamp")
	excerptCol := lo.IndexOf(columns, "ticket_excerpt")
	if excerptCol < 0 {
		return nil, fmt.Errorf("parsing gaps page: no ticket_excerpt column")
	}

	table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		excerpt := strings.TrimSpace(cells.Eq(excerptCol).Text())
		if excerpt == "" {
			return
		}
		gap := triage.Gap{Excerpt: excerpt}
		if tsCol >= 0 {
			gap.Timestamp = strings.TrimSpace(cells.Eq(tsCol).Text())
		}
		gaps = append(gaps, gap)
	})
	return gaps, nil
}

// DownloadURL returns the backend URL serving a downloadable file.
func (c *Client) DownloadURL(kind triage.DownloadKind) string {
	return c.BaseURL + "/admin/download/" + url.PathEscape(string(kind))
}

// Download streams a downloadable file into w and returns the number of
// bytes written.
func (c *Client) Download(ctx context.Context, creds Credentials, kind triage.DownloadKind, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.DownloadURL(kind), nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.do(req, creds)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return 0, err
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("downloading %s: %w", kind, err)
	}
	return n, nil
}

// GenerateArticle asks the backend to draft a knowledge-base article from a
// ticket excerpt and returns its confirmation message.
func (c *Client) GenerateArticle(ctx context.Context, creds Credentials, excerpt string) (string, error) {
	resp, err := c.postJSON(ctx, "/admin/generate_kb", map[string]string{"ticket_excerpt": excerpt}, creds)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var result struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return result.Message, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, creds Credentials) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, creds)
}

func (c *Client) getJSON(ctx context.Context, path string, creds Credentials, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req, creds)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(req *http.Request, creds Credentials) (*http.Response, error) {
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	if !creds.IsZero() {
		req.SetBasicAuth(creds.User, creds.Password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("Backend %s %s failed (request %s): %v", req.Method, req.URL.Path, requestID, err)
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	log.Printf("Backend %s %s -> %d (request %s)", req.Method, req.URL.Path, resp.StatusCode, requestID)
	return resp, nil
}

// checkStatus turns a non-200 response into ErrUnauthorized or an *APIError.
// The body of a failed response is consumed.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Message = payload.Error
	}
	return apiErr
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")
