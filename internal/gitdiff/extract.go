package gitdiff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNotRepository is returned for paths outside any git repository.
var ErrNotRepository = errors.New("not a git repository")

// Content is the extracted text under review.
type Content struct {
	Text          string
	IsFileContent bool
	Description   string
}

// Extractor reads diffs and files from local repositories.
type Extractor struct {
	gitBin string
}

// NewExtractor creates an Extractor that shells out to git on PATH for
// working-tree and index diffs.
func NewExtractor() *Extractor {
	return &Extractor{gitBin: "git"}
}

// Extract returns the content for t in the repository at repoPath.
func (e *Extractor) Extract(ctx context.Context, repoPath string, t Target) (Content, error) {
	var (
		text string
		err  error
	)

	switch v := t.(type) {
	case Uncommitted:
		text, err = e.uncommitted(ctx, repoPath)
	case Staged:
		text, err = e.git(ctx, repoPath, "diff", "--cached", "--no-color", "--no-ext-diff")
	case Commit:
		text, err = commitDiff(ctx, repoPath, v.ID)
	case BranchDiff:
		text, err = branchDiff(ctx, repoPath, v.Source, v.Target)
	case SingleFile:
		return readFile(repoPath, v)
	default:
		return Content{}, fmt.Errorf("unsupported analysis target %T", t)
	}
	if err != nil {
		return Content{}, err
	}

	if len(text) > t.limit() {
		return Content{}, &SizeLimitError{Kind: t.Kind(), Size: len(text), Limit: t.limit()}
	}
	return Content{Text: text, Description: t.Describe()}, nil
}

func (e *Extractor) uncommitted(ctx context.Context, repoPath string) (string, error) {
	if _, err := e.git(ctx, repoPath, "rev-parse", "--verify", "--quiet", "HEAD"); err != nil {
		// No commits yet: everything staged plus everything unstaged.
		staged, err := e.git(ctx, repoPath, "diff", "--cached", "--no-color", "--no-ext-diff")
		if err != nil {
			return "", err
		}
		unstaged, err := e.git(ctx, repoPath, "diff", "--no-color", "--no-ext-diff")
		if err != nil {
			return "", err
		}
		return staged + unstaged, nil
	}
	return e.git(ctx, repoPath, "diff", "HEAD", "--no-color", "--no-ext-diff")
}

func (e *Extractor) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, e.gitBin, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "not a git repository") {
			return "", fmt.Errorf("%s: %w", dir, ErrNotRepository)
		}
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return stdout.String(), nil
}

// OpenRepository opens the repository containing path.
func OpenRepository(path string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotRepository)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return repo, nil
}

// IsRepository reports whether path is inside a git repository.
func IsRepository(path string) bool {
	_, err := OpenRepository(path)
	return err == nil
}

func resolveCommit(repo *git.Repository, rev string) (*object.Commit, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("unknown revision %q: %w", rev, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("revision %q is not a commit: %w", rev, err)
	}
	return commit, nil
}

func commitDiff(ctx context.Context, repoPath, id string) (string, error) {
	repo, err := OpenRepository(repoPath)
	if err != nil {
		return "", err
	}
	commit, err := resolveCommit(repo, id)
	if err != nil {
		return "", err
	}

	var base *object.Commit
	if commit.NumParents() > 0 {
		if base, err = commit.Parent(0); err != nil {
			return "", fmt.Errorf("failed to load parent of %s: %w", shortID(commit.Hash.String()), err)
		}
	}
	return treePatch(ctx, base, commit)
}

func branchDiff(ctx context.Context, repoPath, source, target string) (string, error) {
	repo, err := OpenRepository(repoPath)
	if err != nil {
		return "", err
	}
	src, err := resolveCommit(repo, source)
	if err != nil {
		return "", fmt.Errorf("source branch: %w", err)
	}
	dst, err := resolveCommit(repo, target)
	if err != nil {
		return "", fmt.Errorf("target branch: %w", err)
	}

	base := dst
	bases, err := src.MergeBase(dst)
	if err != nil {
		return "", fmt.Errorf("failed to find merge base: %w", err)
	}
	if len(bases) > 0 {
		base = bases[0]
	}
	return treePatch(ctx, base, src)
}

// treePatch renders the unified diff from one commit's tree to another's.
// A nil from diffs against the empty tree.
func treePatch(ctx context.Context, from, to *object.Commit) (string, error) {
	var fromTree *object.Tree
	if from != nil {
		t, err := from.Tree()
		if err != nil {
			return "", fmt.Errorf("failed to load tree: %w", err)
		}
		fromTree = t
	}
	toTree, err := to.Tree()
	if err != nil {
		return "", fmt.Errorf("failed to load tree: %w", err)
	}

	changes, err := object.DiffTreeWithOptions(ctx, fromTree, toTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return "", fmt.Errorf("failed to diff trees: %w", err)
	}
	if len(changes) == 0 {
		return "", nil
	}
	patch, err := changes.PatchContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to build patch: %w", err)
	}
	return patch.String(), nil
}

func readFile(repoPath string, f SingleFile) (Content, error) {
	desc := f.Describe()
	if f.Override != "" {
		if len(f.Override) > MaxFileBytes {
			return Content{}, &SizeLimitError{Kind: KindFile, Size: len(f.Override), Limit: MaxFileBytes}
		}
		return Content{Text: f.Override, IsFileContent: true, Description: desc}, nil
	}

	path := f.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(repoPath, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Content{}, fmt.Errorf("file not found: %s", f.Path)
	}
	if info.IsDir() {
		return Content{}, fmt.Errorf("%s is a directory", f.Path)
	}
	if info.Size() > MaxFileBytes {
		return Content{}, &SizeLimitError{Kind: KindFile, Size: int(info.Size()), Limit: MaxFileBytes}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Content{}, fmt.Errorf("failed to read %s: %w", f.Path, err)
	}
	return Content{Text: string(data), IsFileContent: true, Description: desc}, nil
}
