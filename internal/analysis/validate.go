package analysis

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kamilpajak/diffscope/internal/gitdiff"
	"github.com/kamilpajak/diffscope/internal/llm"
	"github.com/kamilpajak/diffscope/pkg/models"
)

// ValidationError is a request problem reported before any work is scheduled.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks resolved settings and returns the target to analyze. For
// single-file targets the returned path is absolute.
func Validate(s models.Settings, fileContent string) (gitdiff.Target, error) {
	fields := gitdiff.TargetFields{
		CommitID:     s.CommitID,
		FilePath:     s.FilePath,
		FileContent:  fileContent,
		SourceBranch: s.SourceBranch,
		TargetBranch: s.TargetBranch,
	}
	target, err := gitdiff.ParseTarget(s.TargetKind, fields)
	if err != nil {
		return nil, invalid("target", "%v", err)
	}

	if _, err := llm.ParseProvider(s.Provider); err != nil {
		return nil, invalid("provider", "%v", err)
	}
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, invalid("apiKey", "an API key is required for the %s provider", s.Provider)
	}

	file, isFile := target.(gitdiff.SingleFile)
	if isFile && file.Override != "" {
		if file.Path == "" {
			return nil, invalid("filePath", "a file name is required when providing file content")
		}
		return target, nil
	}

	if strings.TrimSpace(s.RepoPath) == "" {
		return nil, invalid("repoPath", "a repository path is required")
	}
	info, err := os.Stat(s.RepoPath)
	if err != nil || !info.IsDir() {
		return nil, invalid("repoPath", "repository path does not exist: %s", s.RepoPath)
	}
	if !gitdiff.IsRepository(s.RepoPath) {
		return nil, invalid("repoPath", "%s is not a git repository", s.RepoPath)
	}

	switch t := target.(type) {
	case gitdiff.Commit:
		if t.ID == "" {
			return nil, invalid("commitId", "a commit id is required for commit analysis")
		}
	case gitdiff.BranchDiff:
		if t.Source == "" || t.Target == "" {
			return nil, invalid("sourceBranch", "both source and target branches are required for branch analysis")
		}
		if t.Source == t.Target {
			return nil, invalid("targetBranch", "source and target branches must differ")
		}
	case gitdiff.SingleFile:
		path, err := resolveFile(s.RepoPath, t.Path)
		if err != nil {
			return nil, err
		}
		t.Path = path
		return t, nil
	}
	return target, nil
}

// resolveFile returns the absolute path of name, which must name a regular
// file inside the repository. Symlinks are followed before the check.
func resolveFile(repoPath, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", invalid("filePath", "a file path is required for single file analysis")
	}
	root, err := filepath.Abs(repoPath)
	if err != nil {
		return "", invalid("repoPath", "invalid repository path: %s", repoPath)
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	if !within(root, filepath.Clean(path)) {
		return "", invalid("filePath", "%s is outside the repository", name)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", invalid("filePath", "file not found: %s", name)
	}
	if info.IsDir() {
		return "", invalid("filePath", "%s is a directory", name)
	}
	realRoot, rerr := filepath.EvalSymlinks(root)
	realPath, perr := filepath.EvalSymlinks(path)
	if rerr != nil || perr != nil || !within(realRoot, realPath) {
		return "", invalid("filePath", "%s is outside the repository", name)
	}
	return filepath.Clean(path), nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
