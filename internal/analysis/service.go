// Package analysis runs code reviews end to end: it resolves and validates a
// request, then drives the background pipeline from extraction to feedback.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kamilpajak/diffscope/internal/analyzer"
	"github.com/kamilpajak/diffscope/internal/background"
	"github.com/kamilpajak/diffscope/internal/cache"
	"github.com/kamilpajak/diffscope/internal/docs"
	"github.com/kamilpajak/diffscope/internal/gitdiff"
	"github.com/kamilpajak/diffscope/internal/llm"
	"github.com/kamilpajak/diffscope/internal/parser"
	"github.com/kamilpajak/diffscope/internal/progress"
	"github.com/kamilpajak/diffscope/internal/store"
	"github.com/kamilpajak/diffscope/pkg/models"
)

// NoChangesSummary is reported when the target has nothing to review.
const NoChangesSummary = "No changes found, no issues to report."

// Extractor produces the content under review.
type Extractor interface {
	Extract(ctx context.Context, repoPath string, t gitdiff.Target) (gitdiff.Content, error)
}

// DocumentLoader reads reference documents, dropping the ones it cannot read.
type DocumentLoader interface {
	LoadMany(ctx context.Context, names []string, folder string) []docs.Document
}

// Reviewer runs the AI review.
type Reviewer interface {
	Analyze(ctx context.Context, in analyzer.Input) analyzer.Outcome
}

// ReviewerFactory returns the Reviewer for a provider.
type ReviewerFactory func(provider llm.Provider) (Reviewer, error)

// Archiver keeps finished analyses beyond the cache lifetime.
type Archiver interface {
	ArchiveAnalysis(ctx context.Context, rec models.AnalysisRecord) error
}

// Deps wires a Service. Cache, Broadcaster, Runner, Extractor, Documents and
// Reviewers are required.
type Deps struct {
	Cache       cache.Cache
	Broadcaster *progress.Broadcaster
	Runner      *background.Runner
	Extractor   Extractor
	Documents   DocumentLoader
	Reviewers   ReviewerFactory
	Store       store.Store
	Archive     Archiver
	// Defaults are the hard defaults. Model and FallbackModel apply to
	// Defaults.Provider; other providers use their own defaults.
	Defaults models.Settings
	// APIKeys returns the configured key for a provider.
	APIKeys func(provider string) string
	Logger  *slog.Logger
	Now     func() time.Time
}

// Service starts analyses and reports their status.
type Service struct {
	cache       cache.Cache
	broadcaster *progress.Broadcaster
	runner      *background.Runner
	extractor   Extractor
	documents   DocumentLoader
	reviewers   ReviewerFactory
	store       store.Store
	archive     Archiver
	defaults    models.Settings
	apiKeys     func(string) string
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a Service from d.
func NewService(d Deps) *Service {
	s := &Service{
		cache:       d.Cache,
		broadcaster: d.Broadcaster,
		runner:      d.Runner,
		extractor:   d.Extractor,
		documents:   d.Documents,
		reviewers:   d.Reviewers,
		store:       d.Store,
		archive:     d.Archive,
		defaults:    d.Defaults,
		apiKeys:     d.APIKeys,
		logger:      d.Logger,
		now:         d.Now,
	}
	if s.store == nil {
		s.store = store.NewMemoryStore()
	}
	if s.apiKeys == nil {
		s.apiKeys = func(string) string { return "" }
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Broadcaster returns the broadcaster progress is published on.
func (s *Service) Broadcaster() *progress.Broadcaster {
	return s.broadcaster
}

// StartAnalysis validates req and schedules the pipeline. It returns the new
// analysis id without waiting for any of the work. Validation failures are
// returned as *ValidationError and leave no trace in the cache.
func (s *Service) StartAnalysis(ctx context.Context, req Request, sessionKey string) (string, error) {
	stored, err := s.store.Defaults(sessionKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("failed to read session defaults", "session", sessionKey, "error", err)
	}

	settings := s.Settings(req, stored)
	target, err := Validate(settings, req.FileContent)
	if err != nil {
		return "", err
	}

	if err := s.store.SaveDefaults(sessionKey, settings); err != nil {
		s.logger.Warn("failed to save session defaults", "session", sessionKey, "error", err)
	}

	id := uuid.NewString()
	s.cache.Store(id, models.AnalysisRecord{
		ID:            id,
		Status:        models.StatusStarting,
		Target:        target.Describe(),
		ModelUsed:     settings.Model,
		FallbackModel: settings.FallbackModel,
		CreatedAt:     s.now(),
	})

	err = s.runner.Run("analysis", id, func(ctx context.Context) error {
		return s.execute(ctx, id, settings, target)
	}, func(err error) {
		s.reportFailure(id, err)
	})
	if err != nil {
		s.broadcaster.Fail(id, "failed to schedule analysis")
		return "", fmt.Errorf("failed to schedule analysis: %w", err)
	}

	s.logger.Info("analysis started", "id", id, "target", target.Describe(), "provider", settings.Provider, "model", settings.Model)
	return id, nil
}

// Settings resolves the effective settings for req given the session's
// stored values.
func (s *Service) Settings(req Request, stored models.Settings) models.Settings {
	hard := s.defaults
	provider := first(req.Provider, stored.Provider, hard.Provider)
	p, err := llm.ParseProvider(provider)
	if err == nil && p != llm.Provider(hard.Provider) {
		hard.Provider = string(p)
		hard.Model, hard.FallbackModel = llm.DefaultModels(p)
	}
	// Remembered models belong to the remembered provider.
	if prev, perr := llm.ParseProvider(first(stored.Provider, s.defaults.Provider)); err == nil && perr == nil && prev != p {
		stored.Model, stored.FallbackModel = "", ""
	}
	hard.APIKey = s.apiKeys(provider)
	return Resolve(req, stored, hard)
}

// GetStatus returns the current status of id. It never fails: unknown or
// expired ids report NotFound and an empty id reports NotStarted.
func (s *Service) GetStatus(id string) models.StatusResponse {
	if id == "" {
		return models.StatusResponse{Status: models.StatusNotStarted}
	}
	rec, ok := s.cache.Get(id)
	if !ok {
		return models.StatusResponse{Status: models.StatusNotFound}
	}
	return rec.Response()
}

// Content returns the extracted content of id, if it is still cached.
func (s *Service) Content(id string) (models.CachedContent, bool) {
	return s.cache.GetContent(id)
}

func (s *Service) execute(ctx context.Context, id string, settings models.Settings, target gitdiff.Target) error {
	s.broadcaster.Progress(id, models.StatusReadingChanges, "", "")

	content, err := s.extractor.Extract(ctx, settings.RepoPath, target)
	if err != nil {
		s.logger.Warn("content extraction failed", "id", id, "target", target.Describe(), "error", err)
		s.finishWithError(ctx, id, err.Error())
		return nil
	}

	if strings.TrimSpace(content.Text) == "" {
		s.finish(ctx, id, &models.AnalysisResult{
			Items:     []models.FeedbackItem{},
			Summary:   NoChangesSummary,
			NoChanges: true,
		}, "")
		return nil
	}

	s.cache.StoreContent(id, models.CachedContent{Content: content.Text, IsFileContent: content.IsFileContent})

	s.broadcaster.Progress(id, models.StatusLoadingDocuments, "", "")
	var references []string
	if len(settings.Documents) > 0 && settings.DocsFolder != "" {
		for _, d := range s.documents.LoadMany(ctx, settings.Documents, settings.DocsFolder) {
			references = append(references, d.Content)
		}
	}

	provider, err := llm.ParseProvider(settings.Provider)
	if err != nil {
		return err
	}
	reviewer, err := s.reviewers(provider)
	if err != nil {
		return fmt.Errorf("failed to create %s reviewer: %w", provider, err)
	}

	s.broadcaster.Progress(id, models.StatusCallingAI, settings.Model, settings.FallbackModel)
	outcome := reviewer.Analyze(ctx, analyzer.Input{
		Content:       content.Text,
		Documents:     references,
		Requirements:  settings.Requirements,
		APIKey:        settings.APIKey,
		Model:         settings.Model,
		FallbackModel: settings.FallbackModel,
		Language:      settings.Language,
		IsFileContent: content.IsFileContent,
	})

	s.processResult(ctx, id, outcome)
	return nil
}

func (s *Service) processResult(ctx context.Context, id string, out analyzer.Outcome) {
	if out.Failed {
		s.logger.Error("analysis failed", "id", id, "model", out.ModelUsed, "error", out.ErrorMessage)
		s.finishWithError(ctx, id, out.ErrorMessage)
		return
	}

	items := []models.FeedbackItem{}
	if !parser.IsNoIssues(out.Text) {
		items = parser.Parse(out.Text)
	}
	s.finish(ctx, id, &models.AnalysisResult{
		Items:   items,
		Raw:     out.Text,
		Summary: parser.Summarize(items),
	}, out.ModelUsed)
}

func (s *Service) finish(ctx context.Context, id string, result *models.AnalysisResult, modelUsed string) {
	s.broadcaster.Complete(id, result, modelUsed)
	s.logger.Info("analysis complete", "id", id, "summary", result.Summary, "model", modelUsed)
	s.archiveRecord(ctx, id)
}

func (s *Service) finishWithError(ctx context.Context, id, message string) {
	s.broadcaster.Fail(id, message)
	s.archiveRecord(ctx, id)
}

// reportFailure is the last line for anything the pipeline did not handle.
func (s *Service) reportFailure(id string, err error) {
	defer func() {
		if v := recover(); v != nil {
			s.logger.Error("failed to report analysis failure", "id", id, "error", err, "panic", fmt.Sprint(v))
		}
	}()

	message := err.Error()
	var pe *background.PanicError
	if errors.As(err, &pe) {
		message = "analysis failed unexpectedly"
	}
	s.logger.Error("analysis pipeline failed", "id", id, "error", err)
	s.finishWithError(context.Background(), id, message)
}

func (s *Service) archiveRecord(ctx context.Context, id string) {
	if s.archive == nil {
		return
	}
	rec, ok := s.cache.Get(id)
	if !ok {
		return
	}
	if err := s.archive.ArchiveAnalysis(ctx, rec); err != nil {
		s.logger.Warn("failed to archive analysis", "id", id, "error", err)
	}
}
