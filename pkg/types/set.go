package types

import (
	"encoding/json"
	"fmt"
)

// Difficulty labels a set as hard (similar members) or easy (dissimilar members).
type Difficulty string

const (
	Hard Difficulty = "hard"
	Easy Difficulty = "easy"
)

// Difficulties lists the difficulties in generation order. Hard sets are
// built first so that disjoint bookkeeping favours them.
var Difficulties = []Difficulty{Hard, Easy}

// ParseDifficulty validates a difficulty label.
func ParseDifficulty(s string) (Difficulty, error) {
	switch Difficulty(s) {
	case Hard, Easy:
		return Difficulty(s), nil
	default:
		return "", fmt.Errorf("unknown difficulty %q (supported: hard, easy)", s)
	}
}

// Direction is the greedy objective for a difficulty.
type Direction int

const (
	// Maximize grows sets toward the most similar candidate.
	Maximize Direction = iota
	// Minimize grows sets toward the least similar candidate.
	Minimize
)

// Direction returns the greedy objective used to build sets of this difficulty.
func (d Difficulty) Direction() Direction {
	if d == Easy {
		return Minimize
	}
	return Maximize
}

// Set is one difficulty set. Group membership never changes after creation;
// only the score annotations are recomputed. Fields written by other tools
// (e.g. viz_image) are kept in Extra and written back unchanged.
type Set struct {
	Size        int        `json:"size"`
	Difficulty  Difficulty `json:"difficulty"`
	Group       []string   `json:"group"`
	IntraMean   float64    `json:"intra_mean"`
	HardnessPct float64    `json:"hardness_pct"`
	EasinessPct float64    `json:"easiness_pct"`

	Extra map[string]json.RawMessage `json:"-"`
}

// setFields are the keys owned by Set itself.
var setFields = map[string]bool{
	"size": true, "difficulty": true, "group": true,
	"intra_mean": true, "hardness_pct": true, "easiness_pct": true,
}

type setJSON Set

// UnmarshalJSON decodes the known fields and stashes the rest in Extra.
func (s *Set) UnmarshalJSON(data []byte) error {
	var known setJSON
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*s = Set(known)
	s.Extra = nil
	for k, v := range raw {
		if setFields[k] {
			continue
		}
		if s.Extra == nil {
			s.Extra = make(map[string]json.RawMessage)
		}
		s.Extra[k] = v
	}
	return nil
}

// MarshalJSON writes the known fields followed by any extra ones. Known
// fields win on a key clash.
func (s Set) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(setJSON(s))
	if err != nil || len(s.Extra) == 0 {
		return base, err
	}

	out := make(map[string]json.RawMessage, len(s.Extra)+len(setFields))
	for k, v := range s.Extra {
		out[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

// Key identifies the (size, difficulty) slot a set belongs to within a pool.
type Key struct {
	Size       int
	Difficulty Difficulty
}

// Key returns the set's slot key.
func (s Set) Key() Key {
	return Key{Size: s.Size, Difficulty: s.Difficulty}
}

// Contains reports whether id is a member of the set.
func (s Set) Contains(id string) bool {
	for _, g := range s.Group {
		if g == id {
			return true
		}
	}
	return false
}

// Pool is a named group of objects among which sets are built.
type Pool struct {
	Category string
	ID       string
	Members  []string
}

// PoolKey identifies a pool across runs.
type PoolKey struct {
	Category string
	ID       string
}

// Key returns the pool's identity.
func (p Pool) Key() PoolKey {
	return PoolKey{Category: p.Category, ID: p.ID}
}

func (k PoolKey) String() string {
	return k.Category + "/" + k.ID
}
