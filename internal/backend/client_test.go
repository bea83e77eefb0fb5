package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/triagedesk/internal/triage"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL+"/", 5*time.Second)
}

func TestAnalyzeSendsMultipartFile(t *testing.T) {
	var gotName, gotContent, gotType, gotRequestID string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/analyze" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotRequestID = r.Header.Get("X-Request-ID")
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("expected file part: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotName = header.Filename
		gotContent = string(data)
		gotType = header.Header.Get("Content-Type")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"category": "payment", "tags": ["billing"], "uploaded_ticket": "charged twice"}`))
	})

	result, err := client.Analyze(context.Background(), "ticket.txt", strings.NewReader("charged twice"))
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	if gotName != "ticket.txt" || gotContent != "charged twice" {
		t.Errorf("unexpected upload %q: %q", gotName, gotContent)
	}
	if !strings.HasPrefix(gotType, "text/plain") {
		t.Errorf("expected sniffed text/plain content type, got %q", gotType)
	}
	if gotRequestID == "" {
		t.Error("expected X-Request-ID header")
	}
	if result.Category != "payment" || result.UploadedTicket != "charged twice" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestAnalyzeServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "Unsupported file type"}`))
	})

	_, err := client.Analyze(context.Background(), "ticket.exe", strings.NewReader("MZ"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 400 || apiErr.Message != "Unsupported file type" {
		t.Errorf("unexpected api error: %+v", apiErr)
	}
}

func TestAnalyzeServerErrorWithoutMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`<html>Internal Server Error</html>`))
	})

	_, err := client.Analyze(context.Background(), "ticket.txt", strings.NewReader("x"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != "" {
		t.Errorf("expected empty message, got %q", apiErr.Message)
	}
}

func TestAnalyzeTransportError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()
	client := NewClient(ts.URL, time.Second)

	_, err := client.Analyze(context.Background(), "ticket.txt", strings.NewReader("x"))
	if err == nil {
		t.Fatal("expected transport error")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Error("transport error should not be an APIError")
	}
}

func TestSubmitFeedbackSendsJSON(t *testing.T) {
	var got triage.FeedbackPayload
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected JSON content type, got %q", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"status": "ok"}`))
	})

	payload := triage.FeedbackPayload{
		OriginalText:  "charged twice",
		FinalCategory: "payment",
		FinalTags:     []string{"billing", "urgent"},
		FinalPriority: "High",
		AgentNote:     "confirmed duplicate charge",
	}
	if err := client.SubmitFeedback(context.Background(), payload); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if got.FinalCategory != "payment" || len(got.FinalTags) != 2 || got.AgentNote != "confirmed duplicate charge" {
		t.Errorf("unexpected payload received: %+v", got)
	}
}

func TestLogsUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Basic realm="Login Required"`)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "something else entirely"}`))
	})

	_, err := client.Logs(context.Background(), Credentials{})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestLogsSendsCredentials(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "changeme" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[{"timestamp": "2026-02-06T10:00:00", "model": "gpt-3.5-turbo", "input_snippet": "hi", "parsed": {"category": "general"}}]`))
	})

	entries, err := client.Logs(context.Background(), Credentials{User: "admin", Password: "changeme"})
	if err != nil {
		t.Fatalf("logs failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Model != "gpt-3.5-turbo" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestFeedbackRows(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/feedback" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`[{"timestamp": "t", "final_category": "payment"}]`))
	})

	rows, err := client.Feedback(context.Background(), Credentials{})
	if err != nil {
		t.Fatalf("feedback failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Cell("final_category") != "payment" {
		t.Errorf("unexpected rows: %+v", rows)
	}
}

func TestFeedbackEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	rows, err := client.Feedback(context.Background(), Credentials{})
	if err != nil {
		t.Fatalf("feedback failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}

func TestDownloadURL(t *testing.T) {
	client := NewClient("http://backend:5000/", 0)
	got := client.DownloadURL(triage.DownloadFeedback)
	if got != "http://backend:5000/admin/download/feedback.csv" {
		t.Errorf("unexpected download url %q", got)
	}
}

func TestDownloadStreamsFile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/download/llm_logs.jsonl" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": "not found"}`))
			return
		}
		w.Write([]byte("{\"model\": \"gpt\"}\n"))
	})

	var buf bytes.Buffer
	n, err := client.Download(context.Background(), Credentials{}, triage.DownloadLLMLogs, &buf)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if n != int64(buf.Len()) || !strings.Contains(buf.String(), "gpt") {
		t.Errorf("unexpected download content %q (%d bytes)", buf.String(), n)
	}

	_, err = client.Download(context.Background(), Credentials{}, triage.DownloadFeedback, io.Discard)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "not found" {
		t.Errorf("expected not found APIError, got %v", err)
	}
}

func TestGenerateArticle(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["ticket_excerpt"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": "Missing ticket text"}`))
			return
		}
		w.Write([]byte(`{"message": "Article created successfully"}`))
	})

	msg, err := client.GenerateArticle(context.Background(), Credentials{User: "a", Password: "b"}, "refund never arrived")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if msg != "Article created successfully" {
		t.Errorf("unexpected message %q", msg)
	}
}

const gapsPage = `<html><body>
<h2>Content Gaps</h2>
<table border="1" class="dataframe table table-striped">
  <thead>
    <tr style="text-align: right;"><th>timestamp</th><th>ticket_excerpt</th><th>action</th></tr>
  </thead>
  <tbody>
    <tr><td>2026-02-06T10:00:00</td><td>refund never arrived</td><td><button onclick="generateKB('refund never arrived')">Generate KB</button></td></tr>
    <tr><td>2026-02-06T11:00:00</td><td>app crashes &amp; logs out</td><td><button>Generate KB</button></td></tr>
  </tbody>
</table>
</body></html>`

func TestGapsScrapesTable(t *testing.T) {
	var gotUser string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/gaps" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotUser, _, _ = r.BasicAuth()
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(gapsPage))
	})

	gaps, err := client.Gaps(context.Background(), Credentials{User: "admin", Password: "changeme"})
	if err != nil {
		t.Fatalf("gaps failed: %v", err)
	}
	if gotUser != "admin" {
		t.Errorf("expected credentials sent, got user %q", gotUser)
	}
	want := []triage.Gap{
		{Timestamp: "2026-02-06T10:00:00", Excerpt: "refund never arrived"},
		{Timestamp: "2026-02-06T11:00:00", Excerpt: "app crashes & logs out"},
	}
	if len(gaps) != len(want) {
		t.Fatalf("expected %d gaps, got %+v", len(want), gaps)
	}
	for i := range want {
		if gaps[i] != want[i] {
			t.Errorf("gap %d: expected %+v, got %+v", i, want[i], gaps[i])
		}
	}
}

func TestGapsWithoutTable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<h3>No content gaps recorded yet.</h3>`))
	})

	gaps, err := client.Gaps(context.Background(), Credentials{})
	if err != nil {
		t.Fatalf("gaps failed: %v", err)
	}
	if gaps == nil || len(gaps) != 0 {
		t.Errorf("expected empty gaps, got %+v", gaps)
	}
}

func TestGapsUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`Login Required`))
	})

	if _, err := client.Gaps(context.Background(), Credentials{}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}
