package loop

import (
	"regexp"
	"strconv"
	"strings"
)

// ReviewOutcome tags how a ReviewResult was produced.
type ReviewOutcome string

const (
	// ReviewParsed means the reviewer's output parsed cleanly.
	ReviewParsed ReviewOutcome = "parsed"
	// ReviewFallback means parsing failed and the result is a conservative
	// synthetic one: previous score kept, retry instruction issued.
	ReviewFallback ReviewOutcome = "fallback"
)

// CommitInstructions names the files to commit and the message to use.
// An empty file list means commit all changes.
type CommitInstructions struct {
	Files   []string `json:"files"`
	Message string   `json:"message"`
}

// ReviewResult is the structured outcome of one review invocation.
type ReviewResult struct {
	Score            int                 `json:"score"`
	RemainingWork    []string            `json:"remaining_work"`
	SpecificIssues   []string            `json:"specific_issues"`
	Commit           *CommitInstructions `json:"commit,omitempty"`
	NextInstructions string              `json:"next_instructions"`
	Outcome          ReviewOutcome       `json:"outcome"`
	FallbackReason   string              `json:"fallback_reason,omitempty"`
}

// Score extraction patterns, tried in order.
var (
	scoreSlash      = regexp.MustCompile(`(\d{1,3})\s*/\s*100`)
	scorePercent    = regexp.MustCompile(`(\d{1,3})\s*%`)
	scoreColon      = regexp.MustCompile(`:\s*(\d{1,3})\b`)
	scoreStandalone = regexp.MustCompile(`(?m)^\s*(\d{1,3})\s*$`)

	gitAddLine    = regexp.MustCompile(`(?m)^\s*git\s+add\s+(.+)$`)
	gitCommitLine = regexp.MustCompile(`git\s+commit\s+.*?-m\s*["']([^"']+)["']`)
	bulletLine    = regexp.MustCompile(`^\s*(?:[-*]|\d+[.)])\s+(.+)$`)
)

// reviewSections maps header keywords to canonical section names.
var reviewSections = []struct {
	keyword string
	name    string
}{
	{"completeness score", "score"},
	{"remaining work", "remaining"},
	{"specific issues", "issues"},
	{"issues found", "issues"},
	{"commit instructions", "commit"},
	{"next instructions", "next"},
}

// ParseReview parses the reviewer's markdown output into a ReviewResult.
// The format is section-based; the score is required, everything else is
// best-effort. A missing or unparseable score degrades to a fallback result
// that keeps prevScore, so a malformed review never crashes a cycle.
func ParseReview(text string, prevScore int) *ReviewResult {
	sections := splitSections(text)

	scoreText, hasScore := sections["score"]
	if !hasScore {
		// Some models inline the score before the first header.
		scoreText = text
	}
	score, ok := extractScore(scoreText)
	if !ok {
		return FallbackReview(prevScore, "no completeness score found in review output")
	}

	result := &ReviewResult{
		Score:   clampScore(score),
		Outcome: ReviewParsed,
	}
	result.RemainingWork = extractBullets(sections["remaining"])
	result.SpecificIssues = extractBullets(sections["issues"])
	result.Commit = extractCommit(sections["commit"])
	result.NextInstructions = strings.TrimSpace(sections["next"])
	return result
}

// FallbackReview builds the conservative result used when a review cannot be
// obtained or parsed. The reason flows into the instructions so the next
// implementation pass sees the named failure, not just a generic retry.
func FallbackReview(prevScore int, reason string) *ReviewResult {
	instructions := "The previous review could not be completed"
	if reason != "" {
		instructions += " (" + reason + ")"
	}
	instructions += ". Recover from that failure if the cause is in the " +
		"workspace, then continue implementing the specification: pick the " +
		"most important unfinished area, implement it, and make sure the " +
		"code still builds."
	return &ReviewResult{
		Score:            clampScore(prevScore),
		Outcome:          ReviewFallback,
		FallbackReason:   reason,
		NextInstructions: instructions,
	}
}

// splitSections breaks markdown into named sections keyed by known headers.
func splitSections(text string) map[string]string {
	sections := make(map[string]string)
	current := ""
	var buf strings.Builder

	flush := func() {
		if current != "" {
			sections[current] += buf.String()
		}
		buf.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			lower := strings.ToLower(trimmed)
			matched := ""
			for _, s := range reviewSections {
				if strings.Contains(lower, s.keyword) {
					matched = s.name
					break
				}
			}
			flush()
			current = matched
			if matched == "score" {
				// The score often sits on the header line itself.
				buf.WriteString(trimmed + "\n")
			}
			continue
		}
		buf.WriteString(line + "\n")
	}
	flush()
	return sections
}

func extractScore(text string) (int, bool) {
	for _, re := range []*regexp.Regexp{scoreSlash, scorePercent, scoreColon, scoreStandalone} {
		if m := re.FindStringSubmatch(text); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func extractBullets(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		if m := bulletLine.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
		}
	}
	return items
}

// extractCommit pulls the file set and message out of the commit section,
// which the reviewer writes as git commands in a fenced block.
func extractCommit(text string) *CommitInstructions {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	ci := &CommitInstructions{}
	// Any commit-all form wins over listed files, even across add lines.
	sawAll := false
	for _, m := range gitAddLine.FindAllStringSubmatch(text, -1) {
		for _, f := range strings.Fields(m[1]) {
			if f == "." || f == "-A" || f == "--all" {
				sawAll = true
				continue
			}
			if strings.HasPrefix(f, "-") {
				continue
			}
			ci.Files = append(ci.Files, f)
		}
	}
	if sawAll {
		// An empty file list means all changes.
		ci.Files = nil
	}
	if m := gitCommitLine.FindStringSubmatch(text); m != nil {
		ci.Message = m[1]
	}

	if ci.Message == "" {
		// No git commands; treat the first non-fence line as the message.
		for _, line := range strings.Split(text, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "```") {
				continue
			}
			ci.Message = trimmed
			break
		}
	}
	if ci.Message == "" {
		return nil
	}
	return ci
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
