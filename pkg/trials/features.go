package trials

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/Siddhant-K-code/diffsets/pkg/embedding"
	dmath "github.com/Siddhant-K-code/diffsets/pkg/math"
)

// DefaultSimThreshold is the similarity above which a group member counts
// as a near-duplicate of the trial object.
const DefaultSimThreshold = 0.8

const topK = 3

// Similarity aggregates the trial object's similarity to the other
// members of its render group.
type Similarity struct {
	Max        float64
	MeanTopK   float64
	CountAbove int
	Entropy    float64
}

// SimilarityAggs computes similarity aggregates for t. It returns nil when
// the object or every other group member lacks an embedding.
func SimilarityAggs(t Trial, store embedding.Store, thresh float64) *Similarity {
	if t.ObjectID == "" || len(t.RenderGroup) == 0 {
		return nil
	}
	v, ok := store.Get(t.ObjectID)
	if !ok {
		return nil
	}

	var sims []float64
	for _, other := range t.RenderGroup {
		if other == t.ObjectID {
			continue
		}
		w, ok := store.Get(other)
		if !ok {
			continue
		}
		sims = append(sims, dmath.Dot(v, w))
	}
	if len(sims) == 0 {
		return nil
	}

	sorted := append([]float64(nil), sims...)
	sort.Float64s(sorted)

	out := &Similarity{Max: sorted[len(sorted)-1]}
	top := sorted[len(sorted)-min(topK, len(sorted)):]
	out.MeanTopK = mean(top)
	for _, s := range sims {
		if s > thresh {
			out.CountAbove++
		}
	}
	out.Entropy = entropy(sims, sorted[0])
	return out
}

// entropy treats the similarities shifted to a zero minimum as a
// distribution.
func entropy(sims []float64, lo float64) float64 {
	var total float64
	for _, s := range sims {
		total += s - lo
	}
	if total <= 0 {
		return 0
	}
	var h float64
	for _, s := range sims {
		p := (s - lo) / total
		h -= p * math.Log(p+1e-12)
	}
	return h
}

// Session holds the features of one session. NaN marks a feature that
// could not be computed.
type Session struct {
	SessionID     string
	ParticipantID string
	NTrials       int

	AccuracyOverall      float64
	AccuracyBySimilarity map[string]float64

	ReactionTimeMean   float64
	ReactionTimeMedian float64
	ReactionTimeStd    float64

	SwapCount        int
	SwapRate         float64
	AvgSwapsPerTrial float64

	MaxSimilarity   float64
	MeanTopKSim     float64
	CountSimAbove   int
	EntropyMean     float64
	HasSimilarities bool

	PDiffByLabel map[string]float64
	LDIHigh      float64
	LDILow       float64
	LDIMean      float64

	DPrime float64
}

// Sessions groups trials by session id, sorted by id, and computes each
// session's features. Trials without a session id are ignored.
func Sessions(trials []Trial) []Session {
	bySession := make(map[string][]Trial)
	var ids []string
	for _, t := range trials {
		if t.SessionID == "" {
			continue
		}
		if _, ok := bySession[t.SessionID]; !ok {
			ids = append(ids, t.SessionID)
		}
		bySession[t.SessionID] = append(bySession[t.SessionID], t)
	}
	sort.Strings(ids)

	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, SessionFeatures(bySession[id]))
	}
	return out
}

// SessionFeatures computes the features of one session's trials.
func SessionFeatures(trials []Trial) Session {
	n := len(trials)
	s := Session{
		NTrials:              n,
		AccuracyBySimilarity: make(map[string]float64),
		PDiffByLabel:         make(map[string]float64),
	}
	if n > 0 {
		s.SessionID = trials[0].SessionID
		s.ParticipantID = trials[0].ParticipantID
	}

	var correct int
	byLabel := make(map[string][]Trial)
	for _, t := range trials {
		if t.Correct() {
			correct++
		}
		if t.SimilarityLabel != "" {
			byLabel[t.SimilarityLabel] = append(byLabel[t.SimilarityLabel], t)
		}
	}
	s.AccuracyOverall = proportion(correct, n)

	for label, group := range byLabel {
		var c, diff int
		for _, t := range group {
			if t.Correct() {
				c++
			}
			if t.Response == "different" {
				diff++
			}
		}
		s.AccuracyBySimilarity[label] = proportion(c, len(group))
		s.PDiffByLabel[label] = proportion(diff, len(group))
	}

	s.ReactionTimeMean, s.ReactionTimeMedian, s.ReactionTimeStd = reactionTimes(trials)
	s.swaps(trials)
	s.similarities(trials)
	s.discrimination()
	s.DPrime = sessionDPrime(trials)
	return s
}

func reactionTimes(trials []Trial) (meanRT, medianRT, stdRT float64) {
	var rts []float64
	for _, t := range trials {
		if t.ReactionTimeMs >= 0 {
			rts = append(rts, float64(t.ReactionTimeMs))
		}
	}
	if len(rts) == 0 {
		return math.NaN(), math.NaN(), math.NaN()
	}
	meanRT, stdRT = stat.PopMeanStdDev(rts, nil)
	if len(rts) == 1 {
		stdRT = 0
	}
	return meanRT, median(rts), stdRT
}

func (s *Session) swaps(trials []Trial) {
	var history int
	for _, t := range trials {
		if t.SwapEvent {
			s.SwapCount++
		}
		history += t.SwapCount
	}
	s.SwapRate = proportion(s.SwapCount, len(trials))
	if len(trials) == 0 {
		s.AvgSwapsPerTrial = math.NaN()
		return
	}
	s.AvgSwapsPerTrial = float64(history) / float64(len(trials))
}

func (s *Session) similarities(trials []Trial) {
	s.MaxSimilarity, s.MeanTopKSim, s.EntropyMean = math.NaN(), math.NaN(), math.NaN()

	var tops, ents []float64
	for _, t := range trials {
		if t.Sim == nil {
			continue
		}
		s.HasSimilarities = true
		if math.IsNaN(s.MaxSimilarity) || t.Sim.Max > s.MaxSimilarity {
			s.MaxSimilarity = t.Sim.Max
		}
		tops = append(tops, t.Sim.MeanTopK)
		ents = append(ents, t.Sim.Entropy)
		if t.Sim.CountAbove > 0 {
			s.CountSimAbove++
		}
	}
	if len(tops) > 0 {
		s.MeanTopKSim = mean(tops)
		s.EntropyMean = mean(ents)
	}
}

// discrimination computes the lure discrimination indices: the rate of
// "different" responses on high and low similarity lures relative to
// targets.
func (s *Session) discrimination() {
	s.LDIHigh, s.LDILow, s.LDIMean = math.NaN(), math.NaN(), math.NaN()
	target, ok := s.PDiffByLabel["target"]
	if !ok {
		return
	}

	var present []float64
	if high, ok := s.PDiffByLabel["high"]; ok {
		s.LDIHigh = high - target
		present = append(present, s.LDIHigh)
	}
	if low, ok := s.PDiffByLabel["low"]; ok {
		s.LDILow = low - target
		present = append(present, s.LDILow)
	}
	if len(present) > 0 {
		s.LDIMean = mean(present)
	}
}

func sessionDPrime(trials []Trial) float64 {
	var hits, targets, fas, foils int
	for _, t := range trials {
		if t.ActualMoved {
			targets++
			if t.Response == "different" {
				hits++
			}
		} else {
			foils++
			if t.Response == "different" {
				fas++
			}
		}
	}
	return DPrime(hits, targets, fas, foils)
}

// DPrime returns z(hit rate) − z(false-alarm rate) with the log-linear
// correction (count+0.5)/(n+1), which keeps both rates inside (0, 1).
func DPrime(hits, targets, falseAlarms, foils int) float64 {
	hitRate := (float64(hits) + 0.5) / (float64(targets) + 1)
	faRate := (float64(falseAlarms) + 0.5) / (float64(foils) + 1)
	return NormPPF(hitRate) - NormPPF(faRate)
}

// NormPPF is the standard normal quantile function. p is clamped to
// [1e-10, 1−1e-10].
func NormPPF(p float64) float64 {
	p = math.Max(1e-10, math.Min(1-1e-10, p))
	return distuv.UnitNormal.Quantile(p)
}

func proportion(count, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(count) / float64(total)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return stat.Mean(xs, nil)
}

// median averages the two middle values for even n.
func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	m := stat.Quantile(0.5, stat.Empirical, s, nil)
	if n%2 == 0 {
		m = (m + s[n/2]) / 2
	}
	return m
}
