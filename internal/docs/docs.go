// Package docs loads the coding-standards documents a review is checked against.
package docs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
)

// Pattern matches the files offered as standards documents.
const Pattern = "**/*.{md,txt,markdown}"

// maxParallel bounds concurrent reads in LoadMany.
const maxParallel = 8

// ErrOutsideFolder is returned for names that resolve outside the documents folder.
var ErrOutsideFolder = errors.New("document path escapes the documents folder")

// Document is a named standards document.
type Document struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Retriever reads documents from disk.
type Retriever struct {
	logger *slog.Logger
}

// NewRetriever creates a Retriever. A nil logger uses slog.Default().
func NewRetriever(logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{logger: logger}
}

// List returns the slash-separated names of documents under folder, sorted.
func (r *Retriever) List(folder string) ([]string, error) {
	info, err := os.Stat(folder)
	if err != nil {
		return nil, fmt.Errorf("documents folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("documents folder %s is not a directory", folder)
	}

	names, err := doublestar.Glob(os.DirFS(folder), Pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// LoadMany reads the named documents from folder. Documents that cannot be
// read are left out and logged; the rest keep the order of names.
func (r *Retriever) LoadMany(ctx context.Context, names []string, folder string) []Document {
	if len(names) == 0 {
		return nil
	}

	loaded := make([]*Document, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for i, name := range names {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			doc, err := load(folder, name)
			if err != nil {
				r.logger.Warn("skipping document", "name", name, "error", err)
				return nil
			}
			loaded[i] = doc
			return nil
		})
	}
	_ = g.Wait()

	docs := make([]Document, 0, len(names))
	for _, d := range loaded {
		if d != nil {
			docs = append(docs, *d)
		}
	}
	return docs
}

// Resolve returns the absolute path of name inside folder.
func Resolve(folder, name string) (string, error) {
	root, err := filepath.Abs(folder)
	if err != nil {
		return "", err
	}
	path := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(name) {
		return "", fmt.Errorf("%s: %w", name, ErrOutsideFolder)
	}
	return path, nil
}

func load(folder, name string) (*Document, error) {
	path, err := Resolve(folder, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Document{Name: name, Content: string(data)}, nil
}
