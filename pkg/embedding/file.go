package embedding

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Siddhant-K-code/diffsets/pkg/logging"
)

// Supported file formats.
const (
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatDir   = "dir"
)

// vectorKeys are the object fields that may hold the embedding.
var vectorKeys = []string{"vector", "emb", "embedding", "values"}

// FileSource serves embeddings from a single aggregate file that is read
// eagerly when the source is opened.
type FileSource struct {
	path    string
	vectors map[string][]float32
}

// OpenFile reads an aggregate embedding file. Format is "json" (an
// {id: vector} object or an array of {object_id, vector} records) or
// "jsonl" (one {"id", "values"} object per line). Individual malformed
// entries are skipped; an unreadable file is an error.
func OpenFile(path, format string) (*FileSource, error) {
	var (
		vectors map[string][]float32
		err     error
	)
	switch format {
	case FormatJSON, "":
		vectors, err = readJSON(path)
	case FormatJSONL:
		vectors, err = readJSONL(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("read embeddings %s: %w", path, err)
	}
	return &FileSource{path: path, vectors: vectors}, nil
}

// Fetch returns the vectors for ids. A nil ids slice returns everything.
func (f *FileSource) Fetch(ctx context.Context, ids []string) (map[string][]float32, error) {
	if ids == nil {
		out := make(map[string][]float32, len(f.vectors))
		for id, v := range f.vectors {
			out[id] = v
		}
		return out, nil
	}

	out := make(map[string][]float32, len(ids))
	for _, id := range ids {
		if v, ok := f.vectors[id]; ok {
			out[id] = v
		}
	}
	return out, ctx.Err()
}

// Close implements Source.
func (f *FileSource) Close() error { return nil }

func readJSON(path string) (map[string][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	log := logging.Logger()
	vectors := make(map[string][]float32)

	if len(data) > 0 && data[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		for i, rec := range records {
			id, v, ok := decodeRecord(rec, "")
			if !ok {
				log.WithField("index", i).Warn("skipping malformed embedding record")
				continue
			}
			vectors[id] = v
		}
		return vectors, nil
	}

	var byID map[string]json.RawMessage
	if err := json.Unmarshal(data, &byID); err != nil {
		return nil, err
	}
	for id, raw := range byID {
		v, ok := decodeVector(raw)
		if !ok {
			log.WithField("object_id", id).Warn("skipping malformed embedding")
			continue
		}
		vectors[id] = v
	}
	return vectors, nil
}

func readJSONL(path string) (map[string][]float32, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	log := logging.Logger()
	vectors := make(map[string][]float32)
	scanner := bufio.NewScanner(file)

	// Increase buffer for large lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		id, v, ok := decodeRecord(line, "")
		if !ok {
			log.WithField("line", lineNum).Warn("skipping malformed embedding line")
			continue
		}
		vectors[id] = v
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// DirSource reads one file per object from a directory. The file for an
// object is named after its id with "/" replaced by "_" plus ".json".
type DirSource struct {
	dir     string
	workers int
}

// OpenDir returns a source over dir. workers bounds concurrent file reads;
// values below 1 default to GOMAXPROCS.
func OpenDir(dir string, workers int) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open embedding dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open embedding dir: %s is not a directory", dir)
	}
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &DirSource{dir: dir, workers: workers}, nil
}

// FileName returns the per-object file name for id.
func FileName(id string) string {
	return strings.ReplaceAll(id, "/", "_") + ".json"
}

// Fetch reads the files for ids concurrently. Missing and corrupt files are
// absent from the result. A nil ids slice loads every *.json file in the
// directory, keyed by the object_id it declares (or its file stem).
func (d *DirSource) Fetch(ctx context.Context, ids []string) (map[string][]float32, error) {
	type job struct {
		id   string
		path string
	}

	var jobs []job
	if ids == nil {
		entries, err := os.ReadDir(d.dir)
		if err != nil {
			return nil, fmt.Errorf("list embedding dir: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
				continue
			}
			jobs = append(jobs, job{path: filepath.Join(d.dir, e.Name())})
		}
	} else {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			jobs = append(jobs, job{id: id, path: filepath.Join(d.dir, FileName(id))})
		}
	}

	log := logging.Logger()
	var mu sync.Mutex
	out := make(map[string][]float32, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for _, j := range jobs {
		j := j
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			data, err := os.ReadFile(j.path)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					log.WithFields(logrus.Fields{"path": j.path}).WithError(err).Warn("unreadable embedding file")
				}
				return nil
			}

			fallback := j.id
			if fallback == "" {
				fallback = strings.TrimSuffix(filepath.Base(j.path), ".json")
			}
			id, v, ok := decodeRecord(data, fallback)
			if !ok {
				log.WithFields(logrus.Fields{"path": j.path}).Warn("skipping corrupt embedding file")
				return nil
			}
			if j.id != "" {
				id = j.id
			}

			mu.Lock()
			out[id] = v
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close implements Source.
func (d *DirSource) Close() error { return nil }

// decodeRecord extracts an (id, vector) pair from a JSON object or a bare
// array. The id comes from "object_id" or "id", falling back to fallbackID.
func decodeRecord(data []byte, fallbackID string) (string, []float32, bool) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		v, ok := decodeVector(data)
		return fallbackID, v, ok && fallbackID != ""
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, false
	}

	id := fallbackID
	for _, key := range []string{"object_id", "id"} {
		var s string
		if raw, ok := obj[key]; ok && json.Unmarshal(raw, &s) == nil && s != "" {
			id = s
			break
		}
	}
	if id == "" {
		return "", nil, false
	}

	for _, key := range vectorKeys {
		if raw, ok := obj[key]; ok {
			v, ok := decodeVector(raw)
			return id, v, ok
		}
	}
	return "", nil, false
}

// decodeVector parses a JSON number array, or an object holding one under
// a known vector key.
func decodeVector(raw json.RawMessage) ([]float32, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, false
	}

	if raw[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, false
		}
		for _, key := range vectorKeys {
			if inner, ok := obj[key]; ok {
				return decodeVector(inner)
			}
		}
		return nil, false
	}

	var values []float64
	if err := json.Unmarshal(raw, &values); err != nil || len(values) == 0 {
		return nil, false
	}
	out := make([]float32, len(values))
	for i, x := range values {
		out[i] = float32(x)
	}
	return out, true
}
