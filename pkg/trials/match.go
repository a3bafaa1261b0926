package trials

import (
	"github.com/Siddhant-K-code/diffsets/pkg/document"
	"github.com/Siddhant-K-code/diffsets/pkg/types"
)

// Match is a stored set together with where it was found.
type Match struct {
	Set      types.Set
	PoolID   string
	Category string
}

// FindSet finds the stored set for a chosen group. Exact order-agnostic
// matches win over subset matches (group ⊆ stored set); within each kind
// a match in the hinted category is preferred. The difficulty hint, when
// non-empty, filters every pass. Returns document.ErrNoMatch when nothing
// matches or group is empty.
func FindSet(doc *document.Document, group []string, difficulty types.Difficulty, category string) (*Match, error) {
	if doc == nil || len(group) == 0 {
		return nil, document.ErrNoMatch
	}
	chosen := make(map[string]bool, len(group))
	for _, id := range group {
		chosen[id] = true
	}

	passes := []struct {
		exact    bool
		category string
	}{
		{true, category},
		{true, ""},
		{false, category},
		{false, ""},
	}

	entries := doc.Entries()
	for i, p := range passes {
		// The category passes are skipped without a hint.
		if i%2 == 0 && category == "" {
			continue
		}
		for _, e := range entries {
			if p.category != "" && e.Category != p.category {
				continue
			}
			for _, s := range e.Pool.Sets {
				if difficulty != "" && s.Difficulty != difficulty {
					continue
				}
				if matches(chosen, s.Group, p.exact) {
					return &Match{Set: s, PoolID: e.Pool.ID, Category: e.Category}, nil
				}
			}
		}
	}
	return nil, document.ErrNoMatch
}

func matches(chosen map[string]bool, group []string, exact bool) bool {
	stored := make(map[string]bool, len(group))
	for _, id := range group {
		stored[id] = true
	}
	for id := range chosen {
		if !stored[id] {
			return false
		}
	}
	return !exact || len(stored) == len(chosen)
}
