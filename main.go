package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/kamilpajak/diffscope/internal/analysis"
	"github.com/kamilpajak/diffscope/internal/app"
	"github.com/kamilpajak/diffscope/internal/config"
	"github.com/kamilpajak/diffscope/internal/docs"
	"github.com/kamilpajak/diffscope/internal/progress"
	"github.com/kamilpajak/diffscope/pkg/models"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// cliSession is the session key the CLI remembers its settings under.
const cliSession = "cli"

type analyzeOptions struct {
	configPath    string
	target        string
	commitID      string
	filePath      string
	sourceBranch  string
	targetBranch  string
	documents     []string
	docsFolder    string
	language      string
	requirements  string
	provider      string
	model         string
	fallbackModel string
	jsonOutput    bool
	verbose       bool
}

var (
	opts       analyzeOptions
	port       int
	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "diffscope",
	Short:         "AI-powered code review for git changes",
	Long:          `Reviews uncommitted, staged, committed or branch changes with an LLM and reports structured feedback.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [repo]",
	Short: "Review changes in a git repository",
	Long: `Review changes in a git repository (default: current directory).

Examples:
  diffscope analyze
  diffscope analyze ../service --target staged
  diffscope analyze --target commit --commit 3f2a9c1
  diffscope analyze --target branch --source-branch feature --target-branch main
  diffscope analyze --target file --file internal/db/query.go --doc style.md`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local API server",
	RunE:  serve,
}

var docsCmd = &cobra.Command{
	Use:   "docs [folder]",
	Short: "List reference documents",
	Args:  cobra.MaximumNArgs(1),
	RunE:  listDocs,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "diffscope %s\n", version)
		fmt.Fprintf(w, "  commit: %s\n", commit)
		fmt.Fprintf(w, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")

	f := analyzeCmd.Flags()
	f.StringVarP(&opts.target, "target", "t", "", "What to review: uncommitted, staged, commit, file or branch")
	f.StringVar(&opts.commitID, "commit", "", "Commit to review (--target commit)")
	f.StringVar(&opts.filePath, "file", "", "File to review (--target file)")
	f.StringVar(&opts.sourceBranch, "source-branch", "", "Branch with the changes (--target branch)")
	f.StringVar(&opts.targetBranch, "target-branch", "", "Branch the changes merge into (--target branch)")
	f.StringArrayVarP(&opts.documents, "doc", "d", nil, "Reference document to include (repeatable)")
	f.StringVar(&opts.docsFolder, "docs-folder", "", "Folder holding reference documents")
	f.StringVarP(&opts.language, "language", "l", "", "Language of the code under review")
	f.StringVarP(&opts.requirements, "requirements", "r", "", "Extra review requirements")
	f.StringVarP(&opts.provider, "provider", "p", "", "LLM provider (openai, anthropic, google)")
	f.StringVarP(&opts.model, "model", "m", "", "Primary model")
	f.StringVar(&opts.fallbackModel, "fallback-model", "", "Model used when the primary fails")
	f.BoolVar(&opts.jsonOutput, "json", false, "Output result as JSON")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Show debug logs")

	serveCmd.Flags().IntVar(&port, "port", 0, "Port to listen on (overrides config)")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(docsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	repo := "."
	if len(args) == 1 {
		repo = args[0]
	}
	opts.configPath = configPath

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	status, err := analyze(ctx, opts, repo, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			return err
		}
	} else {
		printResult(cmd.ErrOrStderr(), cmd.OutOrStdout(), status)
	}

	if status.Status == models.StatusError {
		return fmt.Errorf("analysis failed: %s", status.Error)
	}
	return nil
}

// analyze runs one analysis in-process and returns its terminal status.
func analyze(ctx context.Context, o analyzeOptions, repo string, stderr io.Writer) (models.StatusResponse, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return models.StatusResponse{}, err
	}
	if err := cfg.Validate(); err != nil {
		return models.StatusResponse{}, err
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return models.StatusResponse{}, err
	}
	defer a.Close()

	console := newConsole(stderr)
	done := make(chan progress.Event, 1)
	var once sync.Once
	a.Service.Broadcaster().Observe(progress.EmitterFunc(func(ev progress.Event) {
		console.Emit(ev)
		if ev.Terminal() {
			once.Do(func() { done <- ev })
		}
	}))

	req, err := buildRequest(o, repo)
	if err != nil {
		return models.StatusResponse{}, err
	}

	console.Start()
	id, err := a.Service.StartAnalysis(ctx, req, cliSession)
	if err != nil {
		console.Stop()
		var ve *analysis.ValidationError
		if errors.As(err, &ve) {
			return models.StatusResponse{}, fmt.Errorf("invalid %s: %s", ve.Field, ve.Message)
		}
		return models.StatusResponse{}, err
	}

	select {
	case ev := <-done:
		console.Stop()
		return ev.StatusResponse, nil
	case <-ctx.Done():
		console.Stop()
		return a.Service.GetStatus(id), ctx.Err()
	}
}

func buildRequest(o analyzeOptions, repo string) (analysis.Request, error) {
	abs, err := filepath.Abs(repo)
	if err != nil {
		return analysis.Request{}, fmt.Errorf("invalid repository path: %w", err)
	}
	req := analysis.Request{
		RepoPath:      abs,
		DocsFolder:    o.docsFolder,
		Documents:     o.documents,
		Language:      o.language,
		Target:        o.target,
		Requirements:  o.requirements,
		Provider:      o.provider,
		Model:         o.model,
		FallbackModel: o.fallbackModel,
	}
	req.CommitID = o.commitID
	req.FilePath = o.filePath
	req.SourceBranch = o.sourceBranch
	req.TargetBranch = o.targetBranch
	if req.Target == "" && req.CommitID != "" {
		req.Target = "commit"
	}
	if req.Target == "" && req.FilePath != "" {
		req.Target = "file"
	}
	return req, nil
}

// console shows progress: a spinner on an interactive terminal, plain lines
// otherwise.
type console struct {
	w           io.Writer
	text        *progress.TextEmitter
	spin        *spinner.Spinner
	interactive bool

	mu sync.Mutex
}

func newConsole(w io.Writer) *console {
	c := &console{w: w, text: &progress.TextEmitter{W: w}}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		c.interactive = true
		c.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
		c.spin.Suffix = " Starting analysis..."
	}
	return c
}

func (c *console) Start() {
	if c.interactive {
		c.spin.Start()
	}
}

func (c *console) Stop() {
	if c.interactive {
		c.spin.Stop()
	}
}

func (c *console) Emit(ev progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Terminal events are left to printResult.
	if ev.Kind != progress.KindProgress {
		return
	}
	if !c.interactive {
		c.text.Emit(ev)
		return
	}
	c.spin.Lock()
	c.spin.Suffix = " " + describe(ev)
	c.spin.Unlock()
}

// describe renders a progress event the way TextEmitter does, without padding.
func describe(ev progress.Event) string {
	var b strings.Builder
	(&progress.TextEmitter{W: &b}).Emit(ev)
	return strings.TrimSpace(b.String())
}

func printResult(stderr, stdout io.Writer, s models.StatusResponse) {
	if s.Status == models.StatusError {
		red := color.New(color.FgRed, color.Bold)
		_, _ = red.Fprint(stderr, "Analysis failed: ")
		fmt.Fprintln(stderr, s.Error)
		return
	}
	if s.Result == nil {
		return
	}

	dim := color.New(color.FgHiBlack)
	fmt.Fprintln(stderr)
	_, _ = dim.Fprintln(stderr, "  "+strings.Repeat("━", 50))

	for i, item := range s.Result.Items {
		if i > 0 {
			fmt.Fprintln(stdout)
		}
		printItem(stdout, item)
	}
	if len(s.Result.Items) > 0 {
		fmt.Fprintln(stdout)
	}

	bold := color.New(color.Bold)
	_, _ = bold.Fprintln(stderr, s.Result.Summary)
	if s.ModelUsed != "" {
		_, _ = dim.Fprintf(stderr, "Model: %s\n", s.ModelUsed)
	}
}

func printItem(w io.Writer, item models.FeedbackItem) {
	badge := severityColor(item.Severity)
	_, _ = badge.Fprintf(w, "%-10s", strings.ToUpper(string(item.Severity)))

	dim := color.New(color.FgHiBlack)
	_, _ = dim.Fprintf(w, " [%s]", item.Category)
	if loc := location(item); loc != "" {
		fmt.Fprintf(w, " %s", loc)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  %s\n", item.Message)
	if item.CodeSnippet != "" {
		for _, line := range strings.Split(item.CodeSnippet, "\n") {
			_, _ = dim.Fprintf(w, "    | %s\n", line)
		}
	}
	if item.Suggestion != "" {
		green := color.New(color.FgGreen)
		_, _ = green.Fprint(w, "  Fix: ")
		fmt.Fprintln(w, item.Suggestion)
	}
}

func location(item models.FeedbackItem) string {
	switch {
	case item.FilePath != "" && item.LineNumber > 0:
		return fmt.Sprintf("%s:%d", item.FilePath, item.LineNumber)
	case item.FilePath != "":
		return item.FilePath
	case item.LineNumber > 0:
		return fmt.Sprintf("line %d", item.LineNumber)
	}
	return ""
}

func severityColor(s models.Severity) *color.Color {
	switch s {
	case models.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	case models.SeverityWarning:
		return color.New(color.FgYellow, color.Bold)
	case models.SeverityStyle:
		return color.New(color.FgMagenta)
	case models.SeverityInfo:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgBlue)
	}
}

func listDocs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	folder := cfg.Analysis.DocsFolder
	if len(args) == 1 {
		folder = args[0]
	}
	if folder == "" {
		return fmt.Errorf("no docs folder given and none configured")
	}

	names, err := docs.NewRetriever(nil).List(folder)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "No documents found in %s\n", folder)
		return nil
	}
	for _, n := range names {
		fmt.Fprintln(cmd.OutOrStdout(), n)
	}
	return nil
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = fmt.Sprint(port)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))

	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	a, err := app.New(workCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	handler, err := a.Handler(workCtx)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%s", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
	}

	// Graceful shutdown on interrupt (Ctrl+C)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	defer signal.Stop(quit)

	go func() {
		<-quit
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
		}
	}()

	fmt.Fprintf(cmd.ErrOrStderr(), "API: http://localhost:%s\n", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
