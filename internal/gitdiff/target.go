// Package gitdiff extracts the code under review from a git repository.
package gitdiff

import (
	"fmt"
	"strings"
)

// Kind names a target variant on the wire.
type Kind string

const (
	KindUncommitted Kind = "uncommitted"
	KindStaged      Kind = "staged"
	KindCommit      Kind = "commit"
	KindFile        Kind = "file"
	KindBranch      Kind = "branch"
)

// Size ceilings, in bytes.
const (
	MaxUncommittedBytes = 200 * 1024
	MaxDiffBytes        = 100 * 1024
	MaxFileBytes        = 500 * 1024
)

// Target is what to review. It is one of Uncommitted, Staged, Commit,
// SingleFile or BranchDiff.
type Target interface {
	Kind() Kind
	Describe() string
	limit() int
}

// Uncommitted reviews every change in the working tree relative to HEAD.
type Uncommitted struct{}

// Staged reviews changes in the index relative to HEAD.
type Staged struct{}

// Commit reviews a single commit against its first parent.
type Commit struct {
	ID string
}

// SingleFile reviews a whole file. Override, when set, replaces the file on disk.
type SingleFile struct {
	Path     string
	Override string
}

// BranchDiff reviews what Source adds on top of Target, like a pull request.
type BranchDiff struct {
	Source string
	Target string
}

func (Uncommitted) Kind() Kind { return KindUncommitted }
func (Staged) Kind() Kind      { return KindStaged }
func (Commit) Kind() Kind      { return KindCommit }
func (SingleFile) Kind() Kind  { return KindFile }
func (BranchDiff) Kind() Kind  { return KindBranch }

func (Uncommitted) Describe() string  { return "uncommitted changes" }
func (Staged) Describe() string       { return "staged changes" }
func (c Commit) Describe() string     { return "commit " + shortID(c.ID) }
func (f SingleFile) Describe() string { return "file " + f.Path }
func (b BranchDiff) Describe() string { return fmt.Sprintf("branch %s into %s", b.Source, b.Target) }

func (Uncommitted) limit() int { return MaxUncommittedBytes }
func (Staged) limit() int      { return MaxDiffBytes }
func (Commit) limit() int      { return MaxDiffBytes }
func (SingleFile) limit() int  { return MaxFileBytes }
func (BranchDiff) limit() int  { return MaxDiffBytes }

// Limit returns the size ceiling for t in bytes.
func Limit(t Target) int {
	return t.limit()
}

// TargetFields is the flat wire form of a Target.
type TargetFields struct {
	CommitID     string `json:"commitId,omitempty" yaml:"commit_id,omitempty"`
	FilePath     string `json:"filePath,omitempty" yaml:"file_path,omitempty"`
	FileContent  string `json:"fileContent,omitempty" yaml:"-"`
	SourceBranch string `json:"sourceBranch,omitempty" yaml:"source_branch,omitempty"`
	TargetBranch string `json:"targetBranch,omitempty" yaml:"target_branch,omitempty"`
}

// ParseTarget builds a Target from its wire form. An empty kind means
// uncommitted changes.
func ParseTarget(kind string, f TargetFields) (Target, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(kind))) {
	case "", KindUncommitted:
		return Uncommitted{}, nil
	case KindStaged:
		return Staged{}, nil
	case KindCommit:
		return Commit{ID: strings.TrimSpace(f.CommitID)}, nil
	case KindFile, "singlefile", "single-file":
		return SingleFile{Path: strings.TrimSpace(f.FilePath), Override: f.FileContent}, nil
	case KindBranch, "pullrequest", "pr":
		return BranchDiff{Source: strings.TrimSpace(f.SourceBranch), Target: strings.TrimSpace(f.TargetBranch)}, nil
	default:
		return nil, fmt.Errorf("unknown analysis type %q", kind)
	}
}

// Fields returns the wire form of t.
func Fields(t Target) TargetFields {
	switch v := t.(type) {
	case Commit:
		return TargetFields{CommitID: v.ID}
	case SingleFile:
		return TargetFields{FilePath: v.Path, FileContent: v.Override}
	case BranchDiff:
		return TargetFields{SourceBranch: v.Source, TargetBranch: v.Target}
	}
	return TargetFields{}
}

// SizeLimitError reports content larger than its target allows.
type SizeLimitError struct {
	Kind  Kind
	Size  int
	Limit int
}

func (e *SizeLimitError) Error() string {
	what := string(e.Kind) + " changes"
	if e.Kind == KindFile {
		what = "a single file"
	}
	return fmt.Sprintf("diff size (%d KB) exceeds the maximum allowed size of %d KB for %s",
		(e.Size+1023)/1024, e.Limit/1024, what)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
