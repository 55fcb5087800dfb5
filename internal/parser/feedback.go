// Package parser turns free-text AI review output into structured feedback.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kamilpajak/diffscope/pkg/models"
)

// Split strategies, tried in order. The first one that yields more than one
// segment wins.
var splitters = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^[ \t]*\d+[.)][ \t]+`), // numbered
	regexp.MustCompile(`(?m)^[ \t]*[-•][ \t]+`),    // bullet
	regexp.MustCompile(`(?m)^[ \t]*\*[ \t]+`),      // asterisk
}

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

type severityRule struct {
	severity models.Severity
	pattern  *regexp.Regexp
}

// Keyword sets in precedence order.
var severityRules = []severityRule{
	{models.SeverityCritical, regexp.MustCompile(`\b(critical|error|must fix|security issue|vulnerability)\b`)},
	{models.SeverityWarning, regexp.MustCompile(`\b(warning|should|performance issue|potential problem|bug)\b`)},
	{models.SeverityStyle, regexp.MustCompile(`\b(style|formatting|naming|convention)\b`)},
}

// Keyword sets used to anchor items when no list structure is present.
var anchorRules = []*regexp.Regexp{
	severityRules[0].pattern,
	severityRules[1].pattern,
	regexp.MustCompile(`\b(suggestion|consider|recommend|improvement)\b`),
	severityRules[2].pattern,
}

// An explicit severity label at the start of an item. It only raises the
// severity found by keyword matching, never lowers it.
var severityLabel = regexp.MustCompile(`^\W*(critical|warning|suggestion|style|info)\b`)

var severityRank = map[models.Severity]int{
	models.SeverityInfo:       0,
	models.SeveritySuggestion: 1,
	models.SeverityStyle:      2,
	models.SeverityWarning:    3,
	models.SeverityCritical:   4,
}

var labelSeverity = map[string]models.Severity{
	"critical":   models.SeverityCritical,
	"warning":    models.SeverityWarning,
	"suggestion": models.SeveritySuggestion,
	"style":      models.SeverityStyle,
	"info":       models.SeverityInfo,
}

type categoryRule struct {
	category models.Category
	pattern  *regexp.Regexp
}

var categoryRules = []categoryRule{
	{models.CategorySecurity, regexp.MustCompile(`security|injection|xss|csrf|vulnerab|password|secret|credential|authenticat|authoriz|sanitiz|escap`)},
	{models.CategoryPerformance, regexp.MustCompile(`performance|slow|inefficien|n\+1|allocat|memory|latency|throughput|o\(n`)},
	{models.CategoryErrorHandling, regexp.MustCompile(`error handling|exception|panic|unchecked|unhandled|try/catch|catch block|nil check|null check|null reference|ignored error`)},
	{models.CategoryStyle, regexp.MustCompile(`formatting|indentation|naming|style|convention|whitespace|lint`)},
	{models.CategoryReadability, regexp.MustCompile(`readab|unclear|confusing|comment|documentation|self-explanatory`)},
	{models.CategoryMaintainability, regexp.MustCompile(`maintainab|duplicat|refactor|complex|coupling|magic number|dead code|single responsibility`)},
}

var transition = regexp.MustCompile(`(?i)\b(suggestion|consider|to fix this|recommendation|recommended fix|fix)\s*:`)

var continuationLine = regexp.MustCompile(`(?i)^\W*(suggestion|consider|to fix this|recommendation|recommended fix|fix)\s*:`)

var (
	windowsPath = regexp.MustCompile(`[A-Za-z]:\\(?:[^\\\s:*?"<>|]+\\)*[^\\\s:*?"<>|]+\.[A-Za-z0-9]+`)
	unixPath    = regexp.MustCompile(`(?:\.{1,2}/|/)?(?:[\w.-]+/)+[\w.-]+\.[A-Za-z0-9]+`)
	webAddress  = regexp.MustCompile(`(?i)(?:\b[a-z][a-z0-9+.-]*://|\bwww\.|\b[a-z0-9-]+(?:\.[a-z0-9-]+)*\.(?:com|org|net|io|dev|app|edu|gov)/)\S*`)
	fileName    = regexp.MustCompile(`\b[\w-]+(?:\.[\w-]+)*\.(?:go|cs|java|py|js|jsx|ts|tsx|rb|php|rs|cpp|cc|c|h|hpp|kt|swift|scala|sql|json|ya?ml|xml|html|css|scss|sh|cshtml|razor|vue)\b`)
)

var linePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\blines?\s+(\d+)`),
	regexp.MustCompile(`(?i)\bline:\s*(\d+)`),
	regexp.MustCompile(`\bL(\d+)\b`),
	regexp.MustCompile(`:(\d+):`),
}

var (
	codeFence    = regexp.MustCompile("(?s)```[\\w+-]*\\n?(.*?)```")
	leadingNoise = regexp.MustCompile(`^[\s#>]*(?:\d+[.)]|[-•*])?\s*`)
	emphasis     = regexp.MustCompile(`\*\*|__`)
	noIssues     = regexp.MustCompile(`^(?:no (?:issues|problems)(?: were)? found|no issues to report|looks good(?: to me)?|lgtm)\W*$`)
)

// Parse converts raw AI output into feedback items. It never fails; text that
// cannot be structured becomes a single General suggestion.
func Parse(raw string) []models.FeedbackItem {
	text := strings.TrimSpace(strings.ReplaceAll(raw, "\r\n", "\n"))
	if text == "" {
		return []models.FeedbackItem{}
	}

	if segments := split(text); len(segments) > 1 {
		if items := extractAll(segments); len(items) > 0 {
			return items
		}
	}

	if items := extractAll(anchorSegments(text)); len(items) > 0 {
		return items
	}

	return []models.FeedbackItem{{
		Severity: models.SeveritySuggestion,
		Category: models.CategoryGeneral,
		Message:  text,
	}}
}

// IsNoIssues reports whether raw is a bare "no issues" reply.
func IsNoIssues(raw string) bool {
	return noIssues.MatchString(asciiLower(strings.TrimSpace(raw)))
}

func split(text string) []string {
	for _, re := range splitters {
		if segs := splitAt(text, re.FindAllStringIndex(text, -1)); len(segs) > 1 {
			return segs
		}
	}
	return nonEmpty(paragraphBreak.Split(text, -1))
}

// splitAt returns the text following each marker up to the next one.
// Anything before the first marker is preamble and dropped.
func splitAt(text string, markers [][]int) []string {
	segs := make([]string, 0, len(markers))
	for i, m := range markers {
		end := len(text)
		if i+1 < len(markers) {
			end = markers[i+1][0]
		}
		segs = append(segs, text[m[1]:end])
	}
	return nonEmpty(segs)
}

// anchorSegments groups lines into items starting at lines that carry a
// severity keyword. Transition lines such as "Suggestion: ..." continue the
// current item, or start one when no item is open yet.
func anchorSegments(text string) []string {
	var segs []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			segs = append(segs, strings.Join(cur, "\n"))
			cur = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		lower := asciiLower(line)
		switch {
		case continuationLine.MatchString(line):
			cur = append(cur, line)
		case anchored(lower):
			flush()
			cur = []string{line}
		case len(cur) > 0:
			cur = append(cur, line)
		}
	}
	flush()
	return segs
}

func anchored(lower string) bool {
	for _, re := range anchorRules {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

func extractAll(segments []string) []models.FeedbackItem {
	items := make([]models.FeedbackItem, 0, len(segments))
	for _, seg := range segments {
		if item, ok := extract(seg); ok {
			items = append(items, item)
		}
	}
	return items
}

func extract(segment string) (models.FeedbackItem, bool) {
	var item models.FeedbackItem

	body := segment
	if m := codeFence.FindStringSubmatchIndex(body); m != nil {
		item.CodeSnippet = strings.TrimSpace(body[m[2]:m[3]])
		body = body[:m[0]] + body[m[1]:]
	}
	body = strings.TrimSpace(emphasis.ReplaceAllString(body, ""))
	body = leadingNoise.ReplaceAllString(body, "")
	if body == "" {
		return item, false
	}

	lower := asciiLower(body)
	item.Severity = severityOf(lower)
	item.Category = categoryOf(lower)
	item.FilePath = filePathOf(body)
	item.LineNumber = lineNumberOf(body)

	message, suggestion := splitSuggestion(body)
	item.Message = collapse(message)
	item.Suggestion = collapse(suggestion)
	if item.Message == "" {
		item.Message, item.Suggestion = item.Suggestion, ""
	}
	return item, item.Message != ""
}

func severityOf(lower string) models.Severity {
	sev, matched := models.SeveritySuggestion, false
	for _, r := range severityRules {
		if r.pattern.MatchString(lower) {
			sev, matched = r.severity, true
			break
		}
	}
	if m := severityLabel.FindStringSubmatch(lower); m != nil {
		label := labelSeverity[m[1]]
		if !matched || severityRank[label] > severityRank[sev] {
			return label
		}
	}
	return sev
}

func categoryOf(lower string) models.Category {
	for _, r := range categoryRules {
		if r.pattern.MatchString(lower) {
			return r.category
		}
	}
	return models.CategoryGeneral
}

func splitSuggestion(body string) (string, string) {
	loc := transition.FindStringIndex(body)
	if loc == nil {
		return body, ""
	}
	return body[:loc[0]], body[loc[1]:]
}

func filePathOf(body string) string {
	body = webAddress.ReplaceAllString(body, " ")
	for _, re := range []*regexp.Regexp{windowsPath, unixPath, fileName} {
		if m := re.FindString(body); m != "" {
			return strings.TrimRight(m, ".,;:)")
		}
	}
	return ""
}

func lineNumberOf(body string) int {
	for _, re := range linePatterns {
		m := re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// Summarize describes items by severity, e.g. "3 issues: 1 critical, 2 warning".
func Summarize(items []models.FeedbackItem) string {
	if len(items) == 0 {
		return "No issues found"
	}

	counts := make(map[models.Severity]int)
	for _, it := range items {
		counts[it.Severity]++
	}

	var parts []string
	for _, s := range []models.Severity{
		models.SeverityCritical, models.SeverityWarning, models.SeveritySuggestion,
		models.SeverityStyle, models.SeverityInfo,
	} {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, asciiLower(string(s))))
		}
	}

	noun := "issues"
	if len(items) == 1 {
		noun = "issue"
	}
	return fmt.Sprintf("%d %s: %s", len(items), noun, strings.Join(parts, ", "))
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// asciiLower lowercases ASCII letters only, so results never depend on locale.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
