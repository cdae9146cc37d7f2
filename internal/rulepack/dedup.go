package rulepack

import (
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
)

const dedupFPR = 0.001

// DuplicateIDs returns the rule ids that appear more than once, within a
// pack or across packs, sorted.
//
// Packs exported from a catalog can carry hundreds of thousands of rules.
// The first pass streams every id through one bloom filter and keeps only
// ids the filter has already seen; the second pass counts those candidates
// exactly. Memory for exact bookkeeping is proportional to the candidates,
// not to the packs.
func DuplicateIDs(packs []*Pack) []string {
	total := 0
	for _, p := range packs {
		total += len(p.Rules)
	}
	if total == 0 {
		return []string{}
	}

	filter := bloom.NewWithEstimates(uint(total), dedupFPR)
	candidates := make(map[string]int)
	for _, p := range packs {
		for _, r := range p.Rules {
			if filter.TestAndAddString(r.ID) {
				candidates[r.ID] = 0
			}
		}
	}
	if len(candidates) == 0 {
		return []string{}
	}

	// Confirm: the filter gives false positives.
	for _, p := range packs {
		for _, r := range p.Rules {
			if n, ok := candidates[r.ID]; ok {
				candidates[r.ID] = n + 1
			}
		}
	}

	out := make([]string, 0, len(candidates))
	for id, n := range candidates {
		if n > 1 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
