package council

import (
	"fmt"
	"regexp"
	"strings"
)

// maxLabels caps the anonymization alphabet at single letters A..Z. Councils
// are small in practice; responses beyond the cap are not labeled.
const maxLabels = 26

// labeledResponse pairs a successful Stage 1 response with its anonymous
// label for the evaluation round.
type labeledResponse struct {
	Label    string
	Response Stage1Response
}

// assignLabels walks successful Stage 1 responses in completion-record order
// and assigns sequential letters starting at A. The returned map is the
// reverse direction, label to model, used to de-anonymize parsed rankings.
func assignLabels(responses []Stage1Response) ([]labeledResponse, map[string]string) {
	labeled := make([]labeledResponse, 0, len(responses))
	labelToModel := make(map[string]string, len(responses))
	for _, r := range responses {
		if r.Status != StageSucceeded {
			continue
		}
		if len(labeled) >= maxLabels {
			break
		}
		label := string(rune('A' + len(labeled)))
		labeled = append(labeled, labeledResponse{Label: label, Response: r})
		labelToModel[label] = r.Model
	}
	return labeled, labelToModel
}

// buildEvaluationPrompt renders the Stage 2 prompt for one evaluator. The
// evaluator's own response is included unmarked: full anonymity includes
// self-blindness.
func buildEvaluationPrompt(query string, labeled []labeledResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewing multiple AI responses to this question: %q\n", query)

	for _, lr := range labeled {
		fmt.Fprintf(&b, "\nResponse %s:\n%s\n", lr.Label, lr.Response.Response)
	}

	labels := make([]string, len(labeled))
	for i, lr := range labeled {
		labels[i] = lr.Label
	}

	fmt.Fprintf(&b, `
For each labeled response, compare strengths and weaknesses across at least
these aspects:
- Accuracy: is it factually correct?
- Completeness: does it fully address the question?
- Clarity: is it well-organized and easy to understand?
- Practicality: can the reader act on it?

After your comparison, end your reply with a single line in this exact form,
covering every label exactly once, best first:

FINAL RANKING: %s
`, strings.Join(labels, " > "))

	return b.String()
}

var (
	// finalRankingRe matches the mandatory terminal line. Case-insensitive:
	// models occasionally emit "Final Ranking:".
	finalRankingRe = regexp.MustCompile(`(?im)^.*FINAL RANKING:\s*(.+)$`)
	// bareRankingRe is the fallback: the first "letter > letter" chain
	// anywhere in the text.
	bareRankingRe = regexp.MustCompile(`\b([A-Za-z](?:\s*>\s*[A-Za-z])+)\b`)
)

// ParseRanking recovers an ordered list of model identifiers from free-text
// evaluation output. Primary strategy: the FINAL RANKING line, split on ">".
// Fallback: the first bare "letter > letter" chain in the text. Labels that
// do not map to a model are dropped; duplicates keep their first position.
// No recoverable ranking yields an empty result, which is not an error.
func ParseRanking(text string, labelToModel map[string]string) []string {
	// The ranking line is terminal; when the instruction itself is echoed
	// back the last occurrence is the real one.
	if matches := finalRankingRe.FindAllStringSubmatch(text, -1); len(matches) > 0 {
		line := matches[len(matches)-1][1]
		if ranking := mapLabels(strings.Split(line, ">"), labelToModel); len(ranking) > 0 {
			return ranking
		}
	}
	if m := bareRankingRe.FindStringSubmatch(text); m != nil {
		return mapLabels(strings.Split(m[1], ">"), labelToModel)
	}
	return nil
}

func mapLabels(tokens []string, labelToModel map[string]string) []string {
	ranking := make([]string, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		label := strings.ToUpper(strings.TrimSpace(tok))
		model, ok := labelToModel[label]
		if !ok {
			continue
		}
		if _, dup := seen[model]; dup {
			continue
		}
		seen[model] = struct{}{}
		ranking = append(ranking, model)
	}
	return ranking
}
