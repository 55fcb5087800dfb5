package analyzer

import (
	"fmt"
	"strings"
)

// Ecosystem selects the prompt variant.
type Ecosystem int

const (
	EcosystemStatic Ecosystem = iota
	EcosystemDynamic
)

var staticLanguages = map[string]bool{
	"csharp": true, "c#": true, "dotnet": true,
	"java": true, "kotlin": true, "scala": true,
	"go": true, "golang": true,
	"typescript": true, "ts": true,
	"rust": true, "cpp": true, "c++": true, "c": true, "swift": true,
}

// EcosystemFor maps a language tag onto a prompt variant. Unknown tags use the
// dynamic variant.
func EcosystemFor(language string) Ecosystem {
	if staticLanguages[strings.ToLower(strings.TrimSpace(language))] {
		return EcosystemStatic
	}
	return EcosystemDynamic
}

const outputRules = `Format every issue as its own numbered item:

1. <Severity> <category> issue: <description>, mentioning the file path and "line N" when known.
Suggestion: <how to fix it>

Severity must be one of: Critical, Warning, Suggestion, Style.
Use Critical only for security vulnerabilities, data loss and crashes.
Name the category using one of: security, performance, error handling, maintainability, readability, style.
Put code in fenced blocks. Do not add a preamble or closing remarks.
If there are no issues, reply with exactly: No issues found.`

const staticSystemPrompt = `You are a senior reviewer for statically typed codebases (C#, Java, Go, TypeScript, Rust).
Pay particular attention to:
- null or nil dereferences and unchecked type conversions
- resource disposal, leaked handles and missing cancellation
- async/await or goroutine misuse, races and deadlocks
- exception or error values that are swallowed or lose context
- API contracts, visibility and immutability of shared state
- injection through string-built queries or commands

` + outputRules

const dynamicSystemPrompt = `You are a senior reviewer for dynamically typed scripting codebases (Python, JavaScript, Ruby, PHP).
Pay particular attention to:
- values whose type can change at runtime and missing input validation
- undefined or None access, truthiness bugs and implicit coercion
- unhandled promise rejections and broad exception handlers
- mutable default arguments and module-level state
- unsafe eval, deserialization, template and shell usage
- naming and formatting conventions of the language (PEP 8, StandardJS)

` + outputRules

// SystemPrompt returns the system prompt for e.
func SystemPrompt(e Ecosystem) string {
	if e == EcosystemStatic {
		return staticSystemPrompt
	}
	return dynamicSystemPrompt
}

// BuildPrompt assembles the user prompt from the content under review.
func BuildPrompt(in Input) string {
	var b strings.Builder

	if in.IsFileContent {
		b.WriteString("Review the following source file.\n")
	} else {
		b.WriteString("Review the following diff. Only comment on changed lines.\n")
	}
	if in.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", in.Language)
	}

	if req := strings.TrimSpace(in.Requirements); req != "" {
		b.WriteString("\n## Additional requirements\n")
		b.WriteString(req)
		b.WriteString("\n")
	}

	if len(in.Documents) > 0 {
		b.WriteString("\n## Coding standards\nApply these team standards and cite them when an issue violates one.\n")
		for i, doc := range in.Documents {
			fmt.Fprintf(&b, "\n### Standard %d\n%s\n", i+1, strings.TrimSpace(doc))
		}
	}

	if in.IsFileContent {
		b.WriteString("\n--- BEGIN FILE ---\n")
		b.WriteString(in.Content)
		b.WriteString("\n--- END FILE ---\n")
	} else {
		b.WriteString("\n--- BEGIN DIFF ---\n")
		b.WriteString(in.Content)
		b.WriteString("\n--- END DIFF ---\n")
	}

	return b.String()
}
