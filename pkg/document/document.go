// Package document reads and writes the difficulty set document: the
// categories → pools → sets structure produced by generation and consumed
// by trial matching.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Siddhant-K-code/diffsets/pkg/logging"
	"github.com/Siddhant-K-code/diffsets/pkg/types"
)

// ErrNoMatch is returned when no stored set matches a lookup.
var ErrNoMatch = errors.New("no matching difficulty set")

// DefaultCategory holds pools read from documents without categories.
const DefaultCategory = "Uncategorized"

// Document is the generation output.
type Document struct {
	RunID       string     `json:"run_id,omitempty"`
	GeneratedAt string     `json:"generated_at,omitempty"`
	Strategy    string     `json:"strategy,omitempty"`
	Seed        int64      `json:"seed,omitempty"`
	Categories  []Category `json:"categories"`
}

// Category groups the pools of one object category.
type Category struct {
	Name  string `json:"category"`
	Pools []Pool `json:"pools"`
}

// Pool holds the sets of one pool.
type Pool struct {
	ID   string      `json:"poolId"`
	Sets []types.Set `json:"sets"`
}

// UnmarshalJSON also accepts the older "subpools" key.
func (c *Category) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name     string `json:"category"`
		Pools    []Pool `json:"pools"`
		Subpools []Pool `json:"subpools"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Name = raw.Name
	c.Pools = raw.Pools
	if len(c.Pools) == 0 {
		c.Pools = raw.Subpools
	}
	return nil
}

// UnmarshalJSON also accepts the older "subpoolId" key.
func (p *Pool) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string      `json:"poolId"`
		SubpoolID string      `json:"subpoolId"`
		Sets      []types.Set `json:"sets"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.ID = raw.ID
	if p.ID == "" {
		p.ID = raw.SubpoolID
	}
	p.Sets = raw.Sets
	return nil
}

// New returns an empty document.
func New() *Document {
	return &Document{Categories: []Category{}}
}

// Read parses a document. A bare JSON array is read as a list of pools in
// the default category.
func Read(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return New(), nil
	}

	if data[0] == '[' {
		var pools []Pool
		if err := json.Unmarshal(data, &pools); err != nil {
			return nil, fmt.Errorf("parse document: %w", err)
		}
		doc := New()
		doc.Categories = append(doc.Categories, Category{Name: DefaultCategory, Pools: pools})
		return doc, nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if doc.Categories == nil {
		doc.Categories = []Category{}
	}
	return &doc, nil
}

// ReadFile parses the document at path.
func ReadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Load reads a previous run's output for reuse. A missing or unparsable
// file yields an empty document so a run can always start from scratch.
func Load(path string) *Document {
	if path == "" {
		return New()
	}
	doc, err := ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logging.Logger().WithError(err).WithField("path", path).Warn("ignoring unreadable existing results")
		}
		return New()
	}
	return doc
}

// Write encodes the document as indented JSON.
func (d *Document) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(d)
}

// Save writes the document atomically via a temporary file in the same
// directory.
func (d *Document) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".diffsets-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := d.Write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("encode document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

// Category returns the named category, or nil.
func (d *Document) Category(name string) *Category {
	for i := range d.Categories {
		if d.Categories[i].Name == name {
			return &d.Categories[i]
		}
	}
	return nil
}

// Pool returns the pool for key, or nil.
func (d *Document) Pool(key types.PoolKey) *Pool {
	c := d.Category(key.Category)
	if c == nil {
		return nil
	}
	for i := range c.Pools {
		if c.Pools[i].ID == key.ID {
			return &c.Pools[i]
		}
	}
	return nil
}

// Reusable returns the stored sets for (pool, size, difficulty) that have a
// non-empty group.
func (d *Document) Reusable(key types.PoolKey, sk types.Key) []types.Set {
	p := d.Pool(key)
	if p == nil {
		return nil
	}
	var out []types.Set
	for _, s := range p.Sets {
		if s.Key() == sk && len(s.Group) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// AddPool appends a pool under its category, creating the category on
// first use. Category order follows first insertion.
func (d *Document) AddPool(category string, p Pool) {
	if c := d.Category(category); c != nil {
		c.Pools = append(c.Pools, p)
		return
	}
	d.Categories = append(d.Categories, Category{Name: category, Pools: []Pool{p}})
}

// Entry is a pool together with its category.
type Entry struct {
	Category string
	Pool     *Pool
}

// Key returns the entry's pool key.
func (e Entry) Key() types.PoolKey {
	return types.PoolKey{Category: e.Category, ID: e.Pool.ID}
}

// Entries lists every pool in document order.
func (d *Document) Entries() []Entry {
	var out []Entry
	for ci := range d.Categories {
		c := &d.Categories[ci]
		for pi := range c.Pools {
			out = append(out, Entry{Category: c.Name, Pool: &c.Pools[pi]})
		}
	}
	return out
}

// Summary counts pools and sets.
type Summary struct {
	Categories int
	Pools      int
	Sets       int
	ByKey      map[types.Key]int
}

// Summarize counts the document's contents.
func (d *Document) Summarize() Summary {
	s := Summary{Categories: len(d.Categories), ByKey: make(map[types.Key]int)}
	for _, e := range d.Entries() {
		s.Pools++
		for _, set := range e.Pool.Sets {
			s.Sets++
			s.ByKey[set.Key()]++
		}
	}
	return s
}
