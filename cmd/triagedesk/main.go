package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/triagedesk/internal/backend"
	"github.com/TobiSchelling/triagedesk/internal/config"
	"github.com/TobiSchelling/triagedesk/internal/console"
	"github.com/TobiSchelling/triagedesk/internal/server"
	"github.com/TobiSchelling/triagedesk/internal/triage"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "triagedesk",
	Short:        "Support-ticket triage console",
	Long:         "triagedesk serves the agent and admin consoles of the ticket triage backend and drives it from the command line.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if cfg.Logging.Level == "DEBUG" {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(adminCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("triagedesk", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/triagedesk/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to point at your triage backend.")
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent and admin web console",
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		fmt.Printf("Starting console at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(newClient(), port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to run server on")
}

// --- analyze command ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Upload a ticket file for analysis",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var upload *console.Upload
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening ticket: %w", err)
			}
			defer f.Close()
			upload = &console.Upload{Filename: filepath.Base(args[0]), Body: f}
		}

		ac := console.NewAnalyzeController(newClient())
		view := ac.SubmitAnalysis(context.Background(), upload)
		fmt.Println(view.Status)
		if view.Failed {
			return fmt.Errorf("analysis did not complete")
		}

		printResult(view.Result)
		return nil
	},
}

func printResult(r *console.ResultView) {
	fmt.Println()
	fmt.Printf("Category:   %s\n", r.Category)
	if len(r.Tags) > 0 {
		fmt.Printf("Tags:       %s\n", strings.Join(r.Tags, ", "))
	} else {
		fmt.Printf("Tags:       %s\n", console.Placeholder)
	}
	fmt.Printf("Priority:   %s\n", r.Priority)
	fmt.Printf("Confidence: %s\n", r.Confidence)
	fmt.Printf("Solution:   %s\n", r.Solution)
	if r.ModelError != "" {
		fmt.Printf("Model:      %s\n", r.ModelError)
	}

	if r.ShowSimilar {
		fmt.Println("\nSimilar tickets:")
		for _, s := range r.Similar {
			fmt.Printf("  score: %s\n", s.Score)
			fmt.Printf("    %s\n", truncate(s.Snippet, 200))
		}
	}

	fmt.Println("\nRecommended articles:")
	if len(r.Articles) == 0 {
		fmt.Println("  No matching knowledge base articles found.")
	}
	for _, a := range r.Articles {
		fmt.Printf("  [%s] %s\n", a.ArticleID, a.Title)
		if a.Link != "" {
			fmt.Printf("        %s\n", a.Link)
		}
	}
}

// --- feedback command ---

var feedbackForm console.FeedbackForm

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Submit an agent correction for an analyzed ticket",
	RunE: func(cmd *cobra.Command, args []string) error {
		ac := console.NewAnalyzeController(newClient())
		view := ac.SubmitFeedback(context.Background(), feedbackForm)
		fmt.Println(view.FeedbackStatus)
		if view.FeedbackFailed {
			return fmt.Errorf("feedback not saved")
		}
		return nil
	},
}

func init() {
	feedbackCmd.Flags().StringVar(&feedbackForm.OriginalText, "text", "", "Original ticket text")
	feedbackCmd.Flags().StringVar(&feedbackForm.FinalCategory, "category", "", "Corrected category")
	feedbackCmd.Flags().StringVar(&feedbackForm.FinalTags, "tags", "", "Corrected tags, comma separated")
	feedbackCmd.Flags().StringVar(&feedbackForm.FinalPriority, "priority", "", "Corrected priority (High, Medium, Low)")
	feedbackCmd.Flags().StringVar(&feedbackForm.AgentNote, "note", "", "Agent note")
}

// --- admin commands ---

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Inspect logs and feedback held by the backend",
}

var adminLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent LLM calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		section := newAdminController().LoadLogs(context.Background(), adminCredentials())
		if !section.Loaded() {
			return sectionResult(section)
		}

		for _, l := range section.Logs {
			fmt.Println(l.Heading)
			fmt.Printf("  input: %s\n", l.Input)
			fmt.Println(indent(l.Output, "  "))
			fmt.Println()
		}
		return nil
	},
}

var adminFeedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Show stored agent feedback",
	RunE: func(cmd *cobra.Command, args []string) error {
		section := newAdminController().LoadFeedback(context.Background(), adminCredentials())
		if !section.Loaded() {
			return sectionResult(section)
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader(section.Table.Columns)
		table.SetAutoWrapText(true)
		table.SetAutoFormatHeaders(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.AppendBulk(section.Table.Rows)
		table.Render()
		return nil
	},
}

var downloadOutput string

var adminDownloadCmd = &cobra.Command{
	Use:       "download [kind]",
	Short:     "Print the download URL of a backend file, or save it with -o",
	Args:      cobra.ExactArgs(1),
	ValidArgs: downloadNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		ac := newAdminController()
		url, err := ac.DownloadURL(args[0])
		if err != nil {
			return fmt.Errorf("%w (expected one of: %s)", err, strings.Join(downloadNames(), ", "))
		}

		if downloadOutput == "" {
			fmt.Println(url)
			return nil
		}

		kind := triage.DownloadKind(args[0])
		n, err := writeFileAtomic(downloadOutput, func(w io.Writer) (int64, error) {
			return ac.Download(context.Background(), adminCredentials(), kind, w)
		})
		if err != nil {
			if errors.Is(err, backend.ErrUnauthorized) {
				return fmt.Errorf("%s", console.AuthPrompt)
			}
			return err
		}
		fmt.Printf("Saved %s (%d bytes)\n", downloadOutput, n)
		return nil
	},
}

var adminGapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "Show tickets that had no matching knowledge-base article",
	RunE: func(cmd *cobra.Command, args []string) error {
		section := newAdminController().LoadGaps(context.Background(), adminCredentials())
		if !section.Loaded() {
			return sectionResult(section)
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"timestamp", "ticket_excerpt"})
		table.SetAutoWrapText(true)
		table.SetAutoFormatHeaders(false)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		for _, g := range section.Gaps {
			table.Append([]string{g.Timestamp, g.Excerpt})
		}
		table.Render()
		fmt.Println("\nDraft an article with: triagedesk admin generate-kb \"<excerpt>\"")
		return nil
	},
}

var adminGenerateCmd = &cobra.Command{
	Use:   "generate-kb [excerpt]",
	Short: "Draft a knowledge-base article for a ticket with no matching article",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, ok := newAdminController().GenerateArticle(context.Background(), adminCredentials(), args[0])
		fmt.Println(msg)
		if !ok {
			return fmt.Errorf("article not generated")
		}
		return nil
	},
}

func init() {
	adminDownloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "Save the file to this path")

	adminCmd.AddCommand(adminLogsCmd)
	adminCmd.AddCommand(adminFeedbackCmd)
	adminCmd.AddCommand(adminGapsCmd)
	adminCmd.AddCommand(adminDownloadCmd)
	adminCmd.AddCommand(adminGenerateCmd)
}

func newClient() *backend.Client {
	return backend.NewClient(cfg.Backend.URL, cfg.Backend.Timeout)
}

func newAdminController() *console.AdminController {
	return console.NewAdminController(newClient())
}

func adminCredentials() backend.Credentials {
	user, pass, ok := cfg.AdminCredentials()
	if !ok {
		log.Printf("Admin credentials not set; export %s and %s or add them to .env", cfg.Admin.UserEnv, cfg.Admin.PassEnv)
	}
	return backend.Credentials{User: user, Password: pass}
}

// sectionResult prints a section that did not load and returns an error for
// the failing states.
func sectionResult(s console.Section) error {
	fmt.Println(s.Text())
	if s.Empty() {
		return nil
	}
	return fmt.Errorf("admin request failed")
}

func downloadNames() []string {
	return lo.Map(triage.DownloadKinds, func(k triage.DownloadKind, _ int) string {
		return string(k)
	})
}

// writeFileAtomic writes the output of fill to path through a temporary file
// in the same directory, so a failed download leaves nothing behind.
func writeFileAtomic(path string, fill func(io.Writer) (int64, error)) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	n, err := fill(tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, fmt.Errorf("saving %s: %w", path, err)
	}
	return n, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
