package server

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strings"

	"github.com/TobiSchelling/triagedesk/internal/backend"
	"github.com/TobiSchelling/triagedesk/internal/console"
	"github.com/TobiSchelling/triagedesk/internal/triage"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// maxUploadSize bounds the in-memory part of a parsed ticket upload.
const maxUploadSize = 32 << 20

// Server is the HTTP server for the agent and admin consoles.
type Server struct {
	analyze *console.AnalyzeController
	admin   *console.AdminController
	pages   map[string]*template.Template
	mux     *http.ServeMux
}

// adminPage is the data rendered by admin.html.
type adminPage struct {
	Logs          *console.Section
	Feedback      *console.Section
	Gaps          *console.Section
	Downloads     []triage.DownloadKind
	ArticleStatus string
	ArticleFailed bool
	Excerpt       string
}

// New creates a new Server.
func New(analyze *console.AnalyzeController, admin *console.AdminController) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"priorities": func() []string {
			return []string{"High", "Medium", "Low"}
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "admin.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{analyze: analyze, admin: admin, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Agent console
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/analyze", s.handleAnalyze)
	s.mux.HandleFunc("/feedback", s.handleFeedback)

	// Admin console
	s.mux.HandleFunc("/admin", s.handleAdmin)
	s.mux.HandleFunc("/admin/logs", s.handleAdminLogs)
	s.mux.HandleFunc("/admin/feedback", s.handleAdminFeedback)
	s.mux.HandleFunc("/admin/gaps", s.handleAdminGaps)
	s.mux.HandleFunc("/admin/download/", s.handleDownload)
	s.mux.HandleFunc("/admin/generate_kb", s.handleGenerateArticle)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.render(w, http.StatusOK, "index.html", console.AnalyzeView{})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	var upload *console.Upload
	if err := r.ParseMultipartForm(maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		log.Printf("Error parsing upload: %v", err)
	}
	file, header, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
		upload = &console.Upload{Filename: header.Filename, Body: file}
	}

	view := s.analyze.SubmitAnalysis(r.Context(), upload)
	s.render(w, http.StatusOK, "index.html", view)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	form := console.FeedbackForm{
		OriginalText:  r.FormValue("orig_text"),
		FinalCategory: r.FormValue("final_category"),
		FinalTags:     r.FormValue("final_tags"),
		FinalPriority: r.FormValue("final_priority"),
		AgentNote:     r.FormValue("agent_note"),
	}

	view := s.analyze.SubmitFeedback(r.Context(), form)
	s.render(w, http.StatusOK, "index.html", view)
}

// handleAdmin challenges for credentials until the backend accepts them, so
// the browser only keeps a working login for later admin requests. The
// check doubles as the initial load of the log section.
func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := r.BasicAuth(); !ok {
		challenge(w)
		return
	}

	section := s.admin.LoadLogs(r.Context(), credentials(r))
	if section.Unauthorized() {
		challenge(w)
		return
	}

	page := s.newAdminPage()
	page.Logs = &section
	s.render(w, http.StatusOK, "admin.html", page)
}

func (s *Server) handleAdminLogs(w http.ResponseWriter, r *http.Request) {
	section := s.admin.LoadLogs(r.Context(), credentials(r))
	page := s.newAdminPage()
	page.Logs = &section
	s.render(w, http.StatusOK, "admin.html", page)
}

func (s *Server) handleAdminFeedback(w http.ResponseWriter, r *http.Request) {
	section := s.admin.LoadFeedback(r.Context(), credentials(r))
	page := s.newAdminPage()
	page.Feedback = &section
	s.render(w, http.StatusOK, "admin.html", page)
}

func (s *Server) handleAdminGaps(w http.ResponseWriter, r *http.Request) {
	section := s.admin.LoadGaps(r.Context(), credentials(r))
	page := s.newAdminPage()
	page.Gaps = &section
	s.render(w, http.StatusOK, "admin.html", page)
}

// handleDownload proxies a backend file to the browser with the browser's
// own credentials. The content is passed through untouched.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	kind, err := triage.ParseDownloadKind(strings.TrimPrefix(r.URL.Path, "/admin/download/"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	aw := &attachmentWriter{w: w, kind: kind}
	n, err := s.admin.Download(r.Context(), credentials(r), kind, aw)
	switch {
	case err == nil:
		aw.start()
		log.Printf("Served %s (%d bytes)", kind, n)
	case aw.started:
		log.Printf("Download of %s interrupted after %d bytes: %v", kind, n, err)
	case errors.Is(err, backend.ErrUnauthorized):
		challenge(w)
	default:
		log.Printf("Download of %s failed: %v", kind, err)
		http.Error(w, "Download failed", http.StatusBadGateway)
	}
}

// attachmentWriter sends the download headers with the first byte, so a
// failed backend request can still answer with an error status.
type attachmentWriter struct {
	w       http.ResponseWriter
	kind    triage.DownloadKind
	started bool
}

func (a *attachmentWriter) start() {
	if a.started {
		return
	}
	a.started = true
	a.w.Header().Set("Content-Type", a.kind.ContentType())
	a.w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", string(a.kind)))
	a.w.WriteHeader(http.StatusOK)
}

func (a *attachmentWriter) Write(p []byte) (int, error) {
	a.start()
	return a.w.Write(p)
}

func (s *Server) handleGenerateArticle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/admin", http.StatusFound)
		return
	}

	excerpt := r.FormValue("ticket_excerpt")
	msg, ok := s.admin.GenerateArticle(r.Context(), credentials(r), excerpt)

	page := s.newAdminPage()
	page.ArticleStatus = msg
	page.ArticleFailed = !ok
	if !ok {
		page.Excerpt = excerpt
	}
	s.render(w, http.StatusOK, "admin.html", page)
}

func (s *Server) newAdminPage() adminPage {
	return adminPage{Downloads: triage.DownloadKinds}
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Login Required"`)
	http.Error(w, "Authentication required", http.StatusUnauthorized)
}

// credentials passes the browser's Basic credentials through to the backend.
func credentials(r *http.Request) backend.Credentials {
	user, pass, _ := r.BasicAuth()
	return backend.Credentials{User: user, Password: pass}
}

// Serve starts the HTTP server on the given port.
func Serve(client *backend.Client, port int) error {
	srv, err := New(console.NewAnalyzeController(client), console.NewAdminController(client))
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s (backend %s)", addr, client.BaseURL)
	return http.ListenAndServe(addr, srv.Handler())
}
