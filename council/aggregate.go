package council

import "sort"

// Aggregate combines parsed per-evaluator rankings into one global ordering.
// Pure function, no I/O, deterministic and idempotent for the same inputs.
//
// Every labeled Stage 1 model accumulates the sum of its 1-indexed positions
// across evaluations with a non-empty parsed ranking. The average rank of a
// model no evaluator ranked is defined as len(responses)+1, worst possible
// plus one, so unranked models sort last without a division by zero. Ties
// keep the order models first appear in responses; the sort is stable and no
// secondary key exists.
func Aggregate(evaluations []Stage2Evaluation, responses []Stage1Response) []AggregateEntry {
	entries := make([]AggregateEntry, 0, len(responses))
	index := make(map[string]int, len(responses))
	sums := make(map[string]int, len(responses))

	for _, r := range responses {
		if r.Status != StageSucceeded {
			continue
		}
		if _, dup := index[r.Model]; dup {
			continue
		}
		index[r.Model] = len(entries)
		entries = append(entries, AggregateEntry{Model: r.Model, DisplayName: r.DisplayName})
	}

	for _, ev := range evaluations {
		for pos, model := range ev.ParsedRanking {
			i, ok := index[model]
			if !ok {
				continue
			}
			sums[model] += pos + 1
			entries[i].RankingsCount++
		}
	}

	unranked := float64(len(entries) + 1)
	for i := range entries {
		if entries[i].RankingsCount > 0 {
			entries[i].AverageRank = float64(sums[entries[i].Model]) / float64(entries[i].RankingsCount)
		} else {
			entries[i].AverageRank = unranked
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].AverageRank < entries[j].AverageRank
	})
	return entries
}
