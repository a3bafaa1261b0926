package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `[
  {"object_id": "Estatuas/a", "category": "Estatuas", "pool": "Estatuas_1", "images": ["a.png"], "scale": 2},
  {"object_id": "Estatuas/b", "category": "Estatuas", "subpool": "Estatuas_1"},
  {"object_id": "Jarrones/c", "category": "Jarrones", "poolName": "Jarrones_1"},
  {"object_id": "Misc/d", "poolId": "Misc_1"},
  {"object_id": "Misc/e"},
  {"object_id": "Misc/f", "pool": 42},
  {"pool": "Misc_1"},
  {"object_id": "Estatuas/a", "category": "Estatuas", "pool": "Estatuas_1"}
]`

func TestRead_Array(t *testing.T) {
	records, err := Read(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, records, 8)

	first := records[0]
	assert.Equal(t, "Estatuas/a", first.ObjectID)
	assert.Equal(t, "Estatuas", first.Category)
	assert.Equal(t, "Estatuas_1", first.Pool)
	assert.Equal(t, []string{"a.png"}, first.Images)
	assert.JSONEq(t, "2", string(first.Extra["scale"]))

	assert.Equal(t, "Estatuas_1", records[1].Pool, "subpool fallback")
	assert.Equal(t, "Jarrones_1", records[2].Pool, "poolName fallback")
	assert.Equal(t, "Misc_1", records[3].Pool, "poolId fallback")
	assert.Empty(t, records[5].Pool, "non-string pool is treated as missing")
}

func TestRead_Wrapped(t *testing.T) {
	records, err := Read(strings.NewReader(`{"objects": [{"object_id": "x", "pool": "p"}]}`))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "p", records[0].Pool)
}

func TestRead_Malformed(t *testing.T) {
	_, err := Read(strings.NewReader(`[{"object_id": `))
	assert.Error(t, err)

	_, err = Read(strings.NewReader("   "))
	assert.Error(t, err)
}

func TestRead_SkipsBadElements(t *testing.T) {
	in := `[{"object_id": "a", "pool": "p"}, "stray", 42, [1, 2], {"object_id": "b", "pool": "p"}]`
	records, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, records, 5)

	pools, skipped := Pools(records)
	assert.Equal(t, 3, skipped)
	require.Len(t, pools, 1)
	assert.Equal(t, []string{"a", "b"}, pools[0].Members)

	records, err = Read(strings.NewReader(`{"objects": [null, true, {"object_id": "c", "pool": "q"}]}`))
	require.NoError(t, err)
	pools, skipped = Pools(records)
	assert.Equal(t, 2, skipped)
	require.Len(t, pools, 1)
	assert.Equal(t, []string{"c"}, pools[0].Members)
}

func TestPools(t *testing.T) {
	records, err := Read(strings.NewReader(sample))
	require.NoError(t, err)

	pools, skipped := Pools(records)
	assert.Equal(t, 3, skipped)
	require.Len(t, pools, 3)

	assert.Equal(t, "Estatuas", pools[0].Category)
	assert.Equal(t, "Estatuas_1", pools[0].ID)
	assert.Equal(t, []string{"Estatuas/a", "Estatuas/b"}, pools[0].Members, "duplicates collapse")

	assert.Equal(t, DefaultCategory, pools[2].Category)
	assert.Equal(t, []string{"Misc/d"}, pools[2].Members)
}

func TestRecord_RoundTripKeepsExtra(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"object_id":"x","pool":"p","tag":"v"}`), &rec))

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"object_id":"x","pool":"p","tag":"v"}`, string(out))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	records, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, ObjectIDs(records), 6)
}
