package analysis

import (
	"github.com/kamilpajak/diffscope/internal/gitdiff"
	"github.com/kamilpajak/diffscope/pkg/models"
)

// Request is a start-analysis call. Empty fields fall back to the session's
// remembered settings and then to the configured defaults.
type Request struct {
	RepoPath   string   `json:"repoPath,omitempty"`
	DocsFolder string   `json:"docsFolder,omitempty"`
	Documents  []string `json:"documents,omitempty"`
	Language   string   `json:"language,omitempty"`

	// Target is uncommitted, staged, commit, file or branch.
	Target string `json:"target,omitempty"`
	gitdiff.TargetFields

	Requirements  string `json:"requirements,omitempty"`
	Provider      string `json:"provider,omitempty"`
	Model         string `json:"model,omitempty"`
	FallbackModel string `json:"fallbackModel,omitempty"`
	APIKey        string `json:"apiKey,omitempty"`
}

// Resolve merges the settings for one analysis. Request values win over
// stored session values, which win over defaults. The target and its fields
// are taken as a group from the first source that names a target, so a
// commit id remembered from an earlier run never leaks into a branch diff.
func Resolve(req Request, stored, defaults models.Settings) models.Settings {
	out := models.Settings{
		RepoPath:      first(req.RepoPath, stored.RepoPath, defaults.RepoPath),
		DocsFolder:    first(req.DocsFolder, stored.DocsFolder, defaults.DocsFolder),
		Language:      first(req.Language, stored.Language, defaults.Language),
		Requirements:  first(req.Requirements, stored.Requirements, defaults.Requirements),
		Provider:      first(req.Provider, stored.Provider, defaults.Provider),
		Model:         first(req.Model, stored.Model, defaults.Model),
		FallbackModel: first(req.FallbackModel, stored.FallbackModel, defaults.FallbackModel),
		APIKey:        first(req.APIKey, stored.APIKey, defaults.APIKey),
	}

	switch {
	case req.Documents != nil:
		out.Documents = req.Documents
	case stored.Documents != nil:
		out.Documents = stored.Documents
	default:
		out.Documents = defaults.Documents
	}
	out.Documents = append([]string(nil), out.Documents...)

	switch {
	case req.Target != "":
		out.TargetKind = req.Target
		out.CommitID = req.CommitID
		out.FilePath = req.FilePath
		out.SourceBranch = req.SourceBranch
		out.TargetBranch = req.TargetBranch
	case stored.TargetKind != "":
		copyTarget(&out, stored)
	default:
		copyTarget(&out, defaults)
	}
	return out
}

func copyTarget(dst *models.Settings, src models.Settings) {
	dst.TargetKind = src.TargetKind
	dst.CommitID = src.CommitID
	dst.FilePath = src.FilePath
	dst.SourceBranch = src.SourceBranch
	dst.TargetBranch = src.TargetBranch
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
