// Package manifest reads render export manifests and groups their object
// records into pools.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Siddhant-K-code/diffsets/pkg/types"
)

// DefaultCategory is assigned to records that carry no category.
const DefaultCategory = "Uncategorized"

// poolFields are the keys tried, in order, to resolve a record's pool.
var poolFields = []string{"pool", "subpool", "poolName", "poolId"}

// Record is one exported object. Known fields are typed; everything else
// is preserved verbatim in Extra.
type Record struct {
	ObjectID string
	Category string
	Pool     string
	Images   []string
	Extra    map[string]json.RawMessage
}

// UnmarshalJSON decodes a record leniently: fields with an unexpected type
// are left empty instead of failing the whole manifest.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = Record{Extra: make(map[string]json.RawMessage)}

	known := map[string]bool{"object_id": true, "category": true, "images": true}
	for _, f := range poolFields {
		known[f] = true
	}

	r.ObjectID = stringField(raw, "object_id")
	r.Category = stringField(raw, "category")
	for _, f := range poolFields {
		if p := stringField(raw, f); p != "" {
			r.Pool = p
			break
		}
	}
	if imgs, ok := raw["images"]; ok {
		var list []string
		if err := json.Unmarshal(imgs, &list); err == nil {
			r.Images = list
		}
	}

	for k, v := range raw {
		if !known[k] {
			r.Extra[k] = v
		}
	}
	return nil
}

// MarshalJSON writes the record back with its extra fields.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Extra)+4)
	for k, v := range r.Extra {
		out[k] = v
	}
	out["object_id"] = r.ObjectID
	if r.Category != "" {
		out["category"] = r.Category
	}
	if r.Pool != "" {
		out["pool"] = r.Pool
	}
	if len(r.Images) > 0 {
		out["images"] = r.Images
	}
	return json.Marshal(out)
}

// Valid reports whether the record can be assigned to a pool.
func (r Record) Valid() bool {
	return r.ObjectID != "" && r.Pool != ""
}

func stringField(raw map[string]json.RawMessage, key string) string {
	v, ok := raw[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}

// Load reads a manifest file. The file is either a JSON array of records
// or an object with an "objects" array.
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export manifest: %w", err)
	}
	defer f.Close()

	records, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse export manifest %s: %w", path, err)
	}
	return records, nil
}

// Read decodes a manifest from r. Elements that do not decode as a record
// become empty records, which Pools drops and counts, so one bad entry
// does not abort the whole manifest.
func Read(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty manifest")
	}

	var elems []json.RawMessage
	if data[0] == '{' {
		var wrapped struct {
			Objects []json.RawMessage `json:"objects"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, err
		}
		elems = wrapped.Objects
	} else if err := json.Unmarshal(data, &elems); err != nil {
		return nil, err
	}

	records := make([]Record, len(elems))
	for i, elem := range elems {
		if err := json.Unmarshal(elem, &records[i]); err != nil {
			records[i] = Record{}
		}
	}
	return records, nil
}

// Pools groups records into pools keyed by (category, pool), preserving
// first-seen order of pools and members. Records without an object id or
// pool are skipped; the number skipped is returned.
func Pools(records []Record) ([]types.Pool, int) {
	index := make(map[types.PoolKey]int)
	seen := make(map[types.PoolKey]map[string]bool)
	var pools []types.Pool
	skipped := 0

	for _, rec := range records {
		if !rec.Valid() {
			skipped++
			continue
		}

		category := rec.Category
		if category == "" {
			category = DefaultCategory
		}
		key := types.PoolKey{Category: category, ID: rec.Pool}

		pos, ok := index[key]
		if !ok {
			pos = len(pools)
			index[key] = pos
			seen[key] = make(map[string]bool)
			pools = append(pools, types.Pool{Category: category, ID: rec.Pool})
		}

		if seen[key][rec.ObjectID] {
			continue
		}
		seen[key][rec.ObjectID] = true
		pools[pos].Members = append(pools[pos].Members, rec.ObjectID)
	}

	return pools, skipped
}

// ObjectIDs returns every distinct object id in the manifest, in order.
func ObjectIDs(records []Record) []string {
	seen := make(map[string]bool, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ObjectID == "" || seen[rec.ObjectID] {
			continue
		}
		seen[rec.ObjectID] = true
		ids = append(ids, rec.ObjectID)
	}
	return ids
}
