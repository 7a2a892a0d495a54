// Package affinity scores how well a runner's completed-task history matches
// a task's requested categories.
//
// The score is a TF-IDF weighted cosine similarity over a two-document
// corpus: document A is the task's category multiset, document B is the
// runner's historical category multiset weighted by completed-task counts.
package affinity

import (
	"math"
	"sort"

	"github.com/campusrun/dispatch/internal/domain"
)

// totalDocs is fixed: the corpus is always the task document plus the runner
// document.
const totalDocs = 2

// bothDocsIDF replaces log(2/2)=0 when a term appears in both documents.
// Without the clamp every shared category would zero out of the score, which
// is exactly the signal the score exists to capture.
const bothDocsIDF = 0.1

// Score returns the TF-IDF cosine similarity in [0,1] between the task's
// requested categories and the runner's completed-category history.
//
// totalCompleted is the runner's completed-task count for the term-frequency
// denominator; when it is zero the history counts are summed instead. An
// empty category set or empty history is a defined zero score, not an error.
func Score(taskCategories []string, history []domain.CategoryCount, totalCompleted int) float64 {
	if len(taskCategories) == 0 || len(history) == 0 {
		return 0
	}

	taskTF := termFrequencies(taskCategories)
	runnerTF := historyFrequencies(history, totalCompleted)
	if len(taskTF) == 0 || len(runnerTF) == 0 {
		return 0
	}

	// Summation order is fixed so equal inputs always produce the exact
	// same float result.
	terms := termUnion(taskTF, runnerTF)

	var dot, normA, normB float64
	for _, term := range terms {
		w := idf(taskTF[term] > 0, runnerTF[term] > 0)
		a := taskTF[term] * w
		b := runnerTF[term] * w
		dot += a * b
		normA += a * a
		normB += b * b
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) {
		return 0
	}
	return sim
}

// termUnion returns the sorted union of terms present in either vector.
func termUnion(a, b map[string]float64) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	terms := make([]string, 0, len(a)+len(b))
	for t := range a {
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	for t := range b {
		if _, ok := seen[t]; !ok {
			terms = append(terms, t)
		}
	}
	sort.Strings(terms)
	return terms
}

// idf returns the inverse document frequency for a term given which of the
// two documents contain it.
func idf(inTask, inHistory bool) float64 {
	switch {
	case inTask && inHistory:
		return bothDocsIDF
	case inTask || inHistory:
		return math.Log(float64(totalDocs) / 1)
	default:
		return 0
	}
}

// termFrequencies maps each token to its fraction of the document's tokens.
func termFrequencies(tokens []string) map[string]float64 {
	tf := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	n := float64(len(tokens))
	for tok := range tf {
		tf[tok] /= n
	}
	return tf
}

// historyFrequencies maps each category to the fraction of the runner's
// completed tasks carrying it.
func historyFrequencies(history []domain.CategoryCount, totalCompleted int) map[string]float64 {
	total := totalCompleted
	if total <= 0 {
		for _, h := range history {
			total += h.Count
		}
	}
	if total <= 0 {
		return nil
	}
	tf := make(map[string]float64, len(history))
	for _, h := range history {
		if h.Count <= 0 {
			continue
		}
		tf[h.Category] += float64(h.Count) / float64(total)
	}
	return tf
}
