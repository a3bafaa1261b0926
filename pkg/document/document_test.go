package document

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Siddhant-K-code/diffsets/pkg/types"
)

func sampleDoc() *Document {
	doc := New()
	doc.RunID = "run-1"
	doc.AddPool("Estatuas", Pool{ID: "Estatuas_1", Sets: []types.Set{
		{Size: 2, Difficulty: types.Hard, Group: []string{"a", "b"}, IntraMean: 0.9, HardnessPct: 100},
		{Size: 2, Difficulty: types.Easy, Group: []string{"a", "c"}, IntraMean: 0.2, EasinessPct: 100},
		{Size: 3, Difficulty: types.Hard, Group: []string{}},
	}})
	doc.AddPool("Vasijas", Pool{ID: "Vasijas_1"})
	doc.AddPool("Estatuas", Pool{ID: "Estatuas_2"})
	return doc
}

func TestSaveAndReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "difficulty_sets.json")
	doc := sampleDoc()
	require.NoError(t, doc.Save(path))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	require.Len(t, got.Categories, 2)
	assert.Equal(t, []string{"Estatuas_1", "Estatuas_2"}, []string{got.Categories[0].Pools[0].ID, got.Categories[0].Pools[1].ID})
	assert.Equal(t, doc.Categories[0].Pools[0].Sets[0], got.Categories[0].Pools[0].Sets[0])
}

func TestWrite_FieldNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleDoc().Write(&buf))
	out := buf.String()
	for _, field := range []string{`"categories"`, `"category"`, `"pools"`, `"poolId"`, `"intra_mean"`, `"hardness_pct"`, `"easiness_pct"`} {
		assert.Contains(t, out, field)
	}
}

func TestRead_LegacyKeys(t *testing.T) {
	in := `{"categories":[{"category":"Estatuas","subpools":[{"subpoolId":"Estatuas_1","sets":[{"size":2,"difficulty":"hard","group":["a","b"]}]}]}]}`
	doc, err := Read(strings.NewReader(in))
	require.NoError(t, err)

	p := doc.Pool(types.PoolKey{Category: "Estatuas", ID: "Estatuas_1"})
	require.NotNil(t, p)
	assert.Len(t, p.Sets, 1)
}

func TestRead_KeepsUnknownSetFields(t *testing.T) {
	in := `{"categories":[{"category":"Estatuas","pools":[{"poolId":"Estatuas_1","sets":[` +
		`{"size":2,"difficulty":"hard","group":["a","b"],"intra_mean":0.9,"viz_image":"viz/hard_2_0.png"}]}]}]}`
	doc, err := Read(strings.NewReader(in))
	require.NoError(t, err)

	p := doc.Pool(types.PoolKey{Category: "Estatuas", ID: "Estatuas_1"})
	require.NotNil(t, p)
	require.Len(t, p.Sets, 1)
	assert.JSONEq(t, `"viz/hard_2_0.png"`, string(p.Sets[0].Extra["viz_image"]))

	p.Sets[0].HardnessPct = 100
	var buf bytes.Buffer
	require.NoError(t, doc.Write(&buf))
	assert.Contains(t, buf.String(), `"viz_image": "viz/hard_2_0.png"`)
	assert.Contains(t, buf.String(), `"hardness_pct": 100`)

	again, err := Read(&buf)
	require.NoError(t, err)
	got := again.Pool(types.PoolKey{Category: "Estatuas", ID: "Estatuas_1"})
	require.NotNil(t, got)
	assert.Equal(t, p.Sets[0].Extra, got.Sets[0].Extra)
	assert.Equal(t, []string{"a", "b"}, got.Sets[0].Group)
}

func TestRead_BarePoolList(t *testing.T) {
	in := `[{"poolId":"P","sets":[{"size":2,"difficulty":"easy","group":["x","y"]}]}]`
	doc, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	assert.NotNil(t, doc.Pool(types.PoolKey{Category: DefaultCategory, ID: "P"}))
}

func TestLoad_MissingOrCorrupt(t *testing.T) {
	dir := t.TempDir()

	doc := Load(filepath.Join(dir, "missing.json"))
	assert.Empty(t, doc.Categories)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{broken"), 0o644))
	doc = Load(bad)
	assert.Empty(t, doc.Categories)

	assert.Empty(t, Load("").Categories)
}

func TestReusable(t *testing.T) {
	doc := sampleDoc()
	key := types.PoolKey{Category: "Estatuas", ID: "Estatuas_1"}

	assert.Len(t, doc.Reusable(key, types.Key{Size: 2, Difficulty: types.Hard}), 1)
	assert.Empty(t, doc.Reusable(key, types.Key{Size: 3, Difficulty: types.Hard}), "empty groups are not reusable")
	assert.Empty(t, doc.Reusable(types.PoolKey{Category: "X", ID: "Estatuas_1"}, types.Key{Size: 2, Difficulty: types.Hard}))
}

func TestSummarize(t *testing.T) {
	s := sampleDoc().Summarize()
	assert.Equal(t, 2, s.Categories)
	assert.Equal(t, 3, s.Pools)
	assert.Equal(t, 3, s.Sets)
	assert.Equal(t, 1, s.ByKey[types.Key{Size: 2, Difficulty: types.Easy}])
}
