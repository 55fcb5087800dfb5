package models

// Severity ranks how urgent a feedback item is.
type Severity string

const (
	SeverityCritical   Severity = "Critical"
	SeverityWarning    Severity = "Warning"
	SeveritySuggestion Severity = "Suggestion"
	SeverityStyle      Severity = "Style"
	SeverityInfo       Severity = "Info"
)

// Category groups feedback items by concern.
type Category string

const (
	CategorySecurity        Category = "Security"
	CategoryPerformance     Category = "Performance"
	CategoryStyle           Category = "Style"
	CategoryErrorHandling   Category = "ErrorHandling"
	CategoryGeneral         Category = "General"
	CategoryMaintainability Category = "Maintainability"
	CategoryReadability     Category = "Readability"
)

// FeedbackItem is a single issue extracted from an AI review.
type FeedbackItem struct {
	Severity    Severity `json:"severity"`
	Category    Category `json:"category"`
	Message     string   `json:"message"`
	FilePath    string   `json:"filePath,omitempty"`
	LineNumber  int      `json:"lineNumber,omitempty"` // 0 when absent
	Suggestion  string   `json:"suggestion,omitempty"`
	CodeSnippet string   `json:"codeSnippet,omitempty"`
}
