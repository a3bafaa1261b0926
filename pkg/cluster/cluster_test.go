package cluster

import (
	"errors"
	"math/rand"
	"testing"
)

// twoBlobs returns six rows forming two well-separated directions.
func twoBlobs() [][]float32 {
	return [][]float32{
		{1, 0.05, 0},
		{0, 0.02, 1},
		{1, 0, 0.05},
		{0.05, 0, 1},
		{0.98, 0.02, 0},
		{0, 0.05, 0.97},
	}
}

func sameCluster(labels []int, idxs ...int) bool {
	for _, i := range idxs[1:] {
		if labels[i] != labels[idxs[0]] {
			return false
		}
	}
	return true
}

func TestAgglomerative_TwoBlobs(t *testing.T) {
	for _, linkage := range []string{LinkageSingle, LinkageComplete, LinkageAverage} {
		a, err := NewAgglomerative(linkage)
		if err != nil {
			t.Fatalf("NewAgglomerative(%q): %v", linkage, err)
		}

		labels, err := a.Cluster(twoBlobs(), 2)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", linkage, err)
		}
		if !sameCluster(labels, 0, 2, 4) || !sameCluster(labels, 1, 3, 5) {
			t.Errorf("%s: unexpected labels %v", linkage, labels)
		}
		if labels[0] != 0 || labels[1] != 1 {
			t.Errorf("%s: labels should be numbered by first appearance, got %v", linkage, labels)
		}
	}
}

func TestAgglomerative_TargetCount(t *testing.T) {
	a, _ := NewAgglomerative("")
	for k := 1; k <= 6; k++ {
		labels, err := a.Cluster(twoBlobs(), k)
		if err != nil {
			t.Fatalf("k=%d: %v", k, err)
		}
		if got := len(Groups(labels)); got != k {
			t.Errorf("k=%d: got %d clusters", k, got)
		}
	}
}

func TestAgglomerative_Infeasible(t *testing.T) {
	a, _ := NewAgglomerative(LinkageAverage)
	if _, err := a.Cluster(twoBlobs(), 7); !errors.Is(err, ErrInfeasible) {
		t.Errorf("expected ErrInfeasible, got %v", err)
	}
	if _, err := a.Cluster(nil, 1); !errors.Is(err, ErrInfeasible) {
		t.Errorf("expected ErrInfeasible for empty input, got %v", err)
	}
	if _, err := NewAgglomerative("ward"); err == nil {
		t.Error("expected error for unsupported linkage")
	}
}

func TestKMeans_TwoBlobs(t *testing.T) {
	km := NewKMeans(20)
	labels, err := km.Cluster(twoBlobs(), 2, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sameCluster(labels, 0, 2, 4) || !sameCluster(labels, 1, 3, 5) {
		t.Errorf("unexpected labels %v", labels)
	}
}

func TestKMeans_Deterministic(t *testing.T) {
	km := NewKMeans(10)
	a, _ := km.Cluster(twoBlobs(), 3, rand.New(rand.NewSource(7)))
	b, _ := km.Cluster(twoBlobs(), 3, rand.New(rand.NewSource(7)))
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed produced different labels: %v vs %v", a, b)
		}
	}
}

func TestKMeans_Infeasible(t *testing.T) {
	km := NewKMeans(0)
	if _, err := km.Cluster(twoBlobs(), 0, rand.New(rand.NewSource(1))); !errors.Is(err, ErrInfeasible) {
		t.Errorf("expected ErrInfeasible, got %v", err)
	}
}

func TestGroups(t *testing.T) {
	groups := Groups([]int{2, 0, 2, 1, 0})
	want := [][]int{{0, 2}, {1, 4}, {3}}
	if len(groups) != len(want) {
		t.Fatalf("got %v, want %v", groups, want)
	}
	for i := range want {
		for j := range want[i] {
			if groups[i][j] != want[i][j] {
				t.Errorf("got %v, want %v", groups, want)
			}
		}
	}

	if g := Groups(Single(3)); len(g) != 1 || len(g[0]) != 3 {
		t.Errorf("Single should produce one cluster, got %v", g)
	}
}
