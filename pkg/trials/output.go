package trials

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Siddhant-K-code/diffsets/pkg/document"
	"github.com/Siddhant-K-code/diffsets/pkg/embedding"
	"github.com/Siddhant-K-code/diffsets/pkg/logging"
)

// Options controls trial annotation.
type Options struct {
	// Store supplies embeddings for similarity aggregates. Optional.
	Store embedding.Store

	// Sets is the difficulty set document to match groups against. Optional.
	Sets *document.Document

	// SimThreshold defaults to DefaultSimThreshold.
	SimThreshold float64
}

// Annotate fills Sim and Set on each trial in place and returns how many
// trials matched a stored set. Groups are matched with the trial's
// category as hint and no difficulty hint.
func Annotate(trials []Trial, opts Options) int {
	thresh := opts.SimThreshold
	if thresh == 0 {
		thresh = DefaultSimThreshold
	}

	var matched int
	for i := range trials {
		t := &trials[i]
		if opts.Store != nil {
			t.Sim = SimilarityAggs(*t, opts.Store, thresh)
		}
		if opts.Sets != nil {
			m, err := FindSet(opts.Sets, t.RenderGroup, "", t.ObjectCategory)
			if err == nil {
				t.Set = m
				matched++
			} else if !errors.Is(err, document.ErrNoMatch) {
				logging.Logger().WithError(err).Warn("set lookup failed")
			}
		}
	}
	return matched
}

// GroupIDs returns every object id referenced by the trials, for loading
// embeddings.
func GroupIDs(trials []Trial) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, t := range trials {
		for _, id := range t.RenderGroup {
			add(id)
		}
		add(t.ObjectID)
	}
	return ids
}

var trialColumns = []string{
	"session_id", "participant_id", "timestamp", "trial_index", "phase",
	"object_id", "object_category", "object_subpool", "object_similarity_label",
	"object_actual_moved", "participant_said_moved", "response",
	"reaction_time_ms", "memorization_time_ms", "swap_event", "swap_count",
	"render_seed", "render_group",
	"sim_max", "sim_mean_top3", "sim_count_above", "sim_entropy",
	"set_intra_mean", "set_hardness_pct", "set_easiness_pct", "set_size",
	"set_difficulty", "set_poolId", "set_category",
}

// WriteTrialsCSV writes one row per trial.
func WriteTrialsCSV(w io.Writer, trials []Trial) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(trialColumns); err != nil {
		return err
	}
	for _, t := range trials {
		group, _ := json.Marshal(t.RenderGroup)
		row := []string{
			t.SessionID, t.ParticipantID, t.Timestamp, strconv.Itoa(t.TrialIndex), t.Phase,
			t.ObjectID, t.ObjectCategory, t.ObjectPool, t.SimilarityLabel,
			strconv.FormatBool(t.ActualMoved), strconv.FormatBool(t.SaidMoved), t.Response,
			strconv.Itoa(t.ReactionTimeMs), strconv.Itoa(t.MemorizationTimeMs),
			strconv.FormatBool(t.SwapEvent), strconv.Itoa(t.SwapCount),
			t.RenderSeed, string(group),
		}
		if t.Sim != nil {
			row = append(row, num(t.Sim.Max), num(t.Sim.MeanTopK), strconv.Itoa(t.Sim.CountAbove), num(t.Sim.Entropy))
		} else {
			row = append(row, "", "", "", "")
		}
		if t.Set != nil {
			s := t.Set.Set
			row = append(row, num(s.IntraMean), num(s.HardnessPct), num(s.EasinessPct),
				strconv.Itoa(s.Size), string(s.Difficulty), t.Set.PoolID, t.Set.Category)
		} else {
			row = append(row, "", "", "", "", "", "", "")
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var sessionColumns = []string{
	"session_id", "participant_id", "n_trials", "accuracy_overall", "accuracy_by_similarity",
	"reaction_time_mean", "reaction_time_median", "reaction_time_std",
	"swap_count", "swap_rate", "avg_swaps_per_trial",
	"max_similarity_to_any", "mean_top3_similarity", "count_sim_above", "similarity_entropy_mean",
	"p_diff_by_label", "MDTS_LDI_high", "MDTS_LDI_low", "MDTS_LDI_mean", "dprime",
}

// WriteSessionsCSV writes one row per session. Per-label maps are encoded
// as JSON objects; NaN is written as an empty cell.
func WriteSessionsCSV(w io.Writer, sessions []Session) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sessionColumns); err != nil {
		return err
	}
	for _, s := range sessions {
		row := []string{
			s.SessionID, s.ParticipantID, strconv.Itoa(s.NTrials),
			num(s.AccuracyOverall), labelMap(s.AccuracyBySimilarity),
			num(s.ReactionTimeMean), num(s.ReactionTimeMedian), num(s.ReactionTimeStd),
			strconv.Itoa(s.SwapCount), num(s.SwapRate), num(s.AvgSwapsPerTrial),
			num(s.MaxSimilarity), num(s.MeanTopKSim), strconv.Itoa(s.CountSimAbove), num(s.EntropyMean),
			labelMap(s.PDiffByLabel), num(s.LDIHigh), num(s.LDILow), num(s.LDIMean), num(s.DPrime),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SessionRecord returns the session's features keyed by the sessions.csv
// column names. NaN features are nil so the record always encodes as JSON.
func SessionRecord(s Session) map[string]interface{} {
	values := []interface{}{
		s.SessionID, s.ParticipantID, s.NTrials,
		finite(s.AccuracyOverall), finiteMap(s.AccuracyBySimilarity),
		finite(s.ReactionTimeMean), finite(s.ReactionTimeMedian), finite(s.ReactionTimeStd),
		s.SwapCount, finite(s.SwapRate), finite(s.AvgSwapsPerTrial),
		finite(s.MaxSimilarity), finite(s.MeanTopKSim), s.CountSimAbove, finite(s.EntropyMean),
		finiteMap(s.PDiffByLabel), finite(s.LDIHigh), finite(s.LDILow), finite(s.LDIMean), finite(s.DPrime),
	}
	rec := make(map[string]interface{}, len(sessionColumns))
	for i, col := range sessionColumns {
		rec[col] = values[i]
	}
	return rec
}

// AuditRecord returns the trial's original description extended with the
// computed similarity and set fields.
func AuditRecord(t Trial) map[string]interface{} {
	rec := make(map[string]interface{}, len(t.Description)+13)
	for k, v := range t.Description {
		rec[k] = v
	}
	if t.Sim != nil {
		rec["sim_max"] = finite(t.Sim.Max)
		rec["sim_mean_top3"] = finite(t.Sim.MeanTopK)
		rec["sim_count_above"] = t.Sim.CountAbove
		rec["sim_entropy"] = finite(t.Sim.Entropy)
	}
	if t.Set != nil {
		rec["set_intra_mean"] = t.Set.Set.IntraMean
		rec["set_hardness_pct"] = t.Set.Set.HardnessPct
		rec["set_easiness_pct"] = t.Set.Set.EasinessPct
		rec["set_size"] = t.Set.Set.Size
		rec["set_difficulty"] = t.Set.Set.Difficulty
		rec["set_poolId"] = t.Set.PoolID
		rec["set_category"] = t.Set.Category
	}
	rec["_session_id"] = t.SessionID
	rec["_trial_index"] = t.TrialIndex
	return rec
}

// AuditFileName is "<session>_trial_<index>.json".
func AuditFileName(t Trial) string {
	session := t.SessionID
	if session == "" {
		session = "unknown"
	}
	session = strings.ReplaceAll(session, string(filepath.Separator), "_")
	return fmt.Sprintf("%s_trial_%d.json", session, t.TrialIndex)
}

// WriteOutputs writes trials.csv, sessions.csv and trial_jsons/ under dir.
func WriteOutputs(dir string, trials []Trial, sessions []Session) error {
	auditDir := filepath.Join(dir, "trial_jsons")
	if err := os.MkdirAll(auditDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := writeFile(filepath.Join(dir, "trials.csv"), func(w io.Writer) error {
		return WriteTrialsCSV(w, trials)
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, "sessions.csv"), func(w io.Writer) error {
		return WriteSessionsCSV(w, sessions)
	}); err != nil {
		return err
	}

	for _, t := range trials {
		data, err := json.MarshalIndent(AuditRecord(t), "", "  ")
		if err != nil {
			return fmt.Errorf("encode trial %s/%d: %w", t.SessionID, t.TrialIndex, err)
		}
		if err := os.WriteFile(filepath.Join(auditDir, AuditFileName(t)), data, 0o644); err != nil {
			return fmt.Errorf("write trial json: %w", err)
		}
	}
	return nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func num(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func finite(f float64) interface{} {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func finiteMap(m map[string]float64) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = finite(v)
	}
	return out
}

// labelMap encodes per-label proportions as a JSON object with sorted keys.
func labelMap(m map[string]float64) string {
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}
