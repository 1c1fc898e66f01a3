package research

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"researchhive/internal/types"
)

var citationRefPattern = regexp.MustCompile(`\[(\d+)\]`)

// parsePlan splits a planning response into the plan text and the
// search queries listed under the QUERIES: marker. Without a marker
// the whole response is scanned for query lines.
func parsePlan(text string) (string, []string) {
	marker := -1
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.EqualFold(strings.TrimSpace(strings.TrimLeft(line, "# ")), "QUERIES:") {
			marker = i
			break
		}
	}
	if marker < 0 {
		return strings.TrimSpace(text), parseQueryLines(text)
	}
	plan := strings.TrimSpace(strings.Join(lines[:marker], "\n"))
	return plan, parseQueryLines(strings.Join(lines[marker+1:], "\n"))
}

// parseQueryLines collects "- " bullet lines as queries, deduplicated
// in order.
func parseQueryLines(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "- ") {
			continue
		}
		q := strings.TrimSpace(strings.TrimPrefix(line, "- "))
		if q == "" || seen[strings.ToLower(q)] {
			continue
		}
		seen[strings.ToLower(q)] = true
		out = append(out, q)
	}
	return out
}

func mergeQueries(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, q := range existing {
		seen[strings.ToLower(q)] = true
	}
	out := existing
	for _, q := range extra {
		if !seen[strings.ToLower(q)] {
			seen[strings.ToLower(q)] = true
			out = append(out, q)
		}
	}
	return out
}

type reportSections struct {
	mostSupported string
	alternatives  string
	summary       string
	findings      []string
}

// parseReport slices a synthesis response into its named sections.
// Section headings match loosely: optional markdown prefix, optional
// trailing colon, any case. Missing sections stay empty; the caller
// keeps the full text regardless.
func parseReport(text string) reportSections {
	var r reportSections
	section := ""
	var current []string

	flush := func() {
		body := strings.TrimSpace(strings.Join(current, "\n"))
		switch section {
		case "most supported view":
			r.mostSupported = body
		case "credible alternatives":
			r.alternatives = body
		case "executive summary":
			r.summary = body
		case "findings":
			r.findings = append(r.findings, parseFindingLines(body)...)
		}
		current = current[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		h := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(strings.TrimLeft(line, "# *")), ":"))
		switch h {
		case "most supported view", "credible alternatives", "executive summary", "findings":
			flush()
			section = h
		default:
			current = append(current, line)
		}
	}
	flush()
	return r
}

func parseFindingLines(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") {
			if f := strings.TrimSpace(strings.TrimPrefix(line, "- ")); f != "" {
				out = append(out, f)
			}
		}
	}
	return out
}

// buildClaims turns finding lines into ledger entries. Evidence labels
// like [2] resolve against the ordered citation ids handed to the
// synthesis prompt; a finding citing nothing that resolves is recorded
// as unverified rather than dropped.
func buildClaims(jobID string, findings []string, citationIDs []string) []types.ClaimLedgerEntry {
	var claims []types.ClaimLedgerEntry
	for _, f := range findings {
		var ids []string
		seen := make(map[int]bool)
		for _, m := range citationRefPattern.FindAllStringSubmatch(f, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil || n < 1 || n > len(citationIDs) || seen[n] {
				continue
			}
			seen[n] = true
			ids = append(ids, citationIDs[n-1])
		}

		support := types.SupportSupported
		if len(ids) == 0 {
			support = types.SupportUnverified
		}
		claims = append(claims, types.ClaimLedgerEntry{
			ID:          uuid.NewString(),
			JobID:       jobID,
			Claim:       strings.TrimSpace(citationRefPattern.ReplaceAllString(f, "")),
			Support:     support,
			CitationIDs: ids,
		})
	}
	return claims
}
