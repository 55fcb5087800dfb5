package models

// Settings are the per-session analysis preferences. Empty fields mean
// "not set" and fall through to the next source when resolving.
type Settings struct {
	RepoPath      string   `json:"repoPath,omitempty"`
	DocsFolder    string   `json:"docsFolder,omitempty"`
	Documents     []string `json:"documents,omitempty"`
	Language      string   `json:"language,omitempty"`
	TargetKind    string   `json:"targetKind,omitempty"`
	CommitID      string   `json:"commitId,omitempty"`
	FilePath      string   `json:"filePath,omitempty"`
	SourceBranch  string   `json:"sourceBranch,omitempty"`
	TargetBranch  string   `json:"targetBranch,omitempty"`
	Requirements  string   `json:"requirements,omitempty"`
	Provider      string   `json:"provider,omitempty"`
	Model         string   `json:"model,omitempty"`
	FallbackModel string   `json:"fallbackModel,omitempty"`

	// Never persisted.
	APIKey string `json:"-"`
}
