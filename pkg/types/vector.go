package types

// Vector is an object embedding keyed by object id. Metadata travels with
// the vector when it is uploaded to a vector index.
type Vector struct {
	ID       string
	Values   []float32
	Metadata map[string]interface{}
}

// LoadStats summarises an embedding load.
type LoadStats struct {
	Loaded  int
	Skipped int
	Missing int
}
