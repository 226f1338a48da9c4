package threat

import (
	"errors"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// Isolation forest parameters.
const (
	// ForestSeed fixes the forest's randomness so identical batches always
	// produce identical scores and outlier sets. It is not configurable.
	ForestSeed = 42

	DefaultTrees      = 100
	DefaultMaxSamples = 256
)

// eulerGamma is the Euler–Mascheroni constant used by the harmonic-number approximation.
const eulerGamma = 0.5772156649

var errNotFitted = errors.New("threat: isolation forest not fitted")

// IsolationForest detects outliers by how quickly random axis-aligned splits
// isolate a point. Scores follow the usual convention: ScoreSamples is
// -2^(-E[h(x)]/c(psi)), and Decision subtracts the contamination percentile so
// that negative values are outliers.
type IsolationForest struct {
	Trees         int
	MaxSamples    int
	Contamination float64
	// Workers bounds parallel tree construction; <= 0 means GOMAXPROCS.
	// Results do not depend on it.
	Workers int

	trees      []*isoNode
	sampleSize int
	offset     float64
}

// NewIsolationForest returns a forest with default size settings.
func NewIsolationForest(contamination float64) *IsolationForest {
	return &IsolationForest{
		Trees:         DefaultTrees,
		MaxSamples:    DefaultMaxSamples,
		Contamination: contamination,
	}
}

type isoNode struct {
	feature     int
	threshold   float64
	left, right *isoNode
	// size is the number of training samples that reached a leaf.
	size int
}

func (n *isoNode) leaf() bool { return n.left == nil }

// Fit builds the forest from X (rows of equal width) and sets the decision
// offset from the training scores.
func (f *IsolationForest) Fit(X [][]float64) error {
	if len(X) == 0 {
		return paramError("records", "cannot fit on an empty batch")
	}
	if f.Contamination <= 0 || f.Contamination >= 1 {
		return paramError("contamination", "must be in (0, 1)")
	}
	if f.Trees <= 0 {
		f.Trees = DefaultTrees
	}
	if f.MaxSamples <= 0 {
		f.MaxSamples = DefaultMaxSamples
	}

	n := len(X)
	psi := min(f.MaxSamples, n)
	depthLimit := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))

	// Seeds are drawn up front so tree i gets the same stream no matter
	// which worker builds it.
	master := rand.New(rand.NewPCG(ForestSeed, ForestSeed))
	seeds := make([][2]uint64, f.Trees)
	for i := range seeds {
		seeds[i] = [2]uint64{master.Uint64(), master.Uint64()}
	}

	workers := f.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]*isoNode, f.Trees)
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range trees {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(seeds[i][0], seeds[i][1]))
			idx := rng.Perm(n)[:psi]
			trees[i] = buildTree(rng, X, idx, 0, depthLimit)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	f.trees = trees
	f.sampleSize = psi

	scores := f.scoreSamples(X)
	f.offset = percentile(scores, 100*f.Contamination)
	return nil
}

func buildTree(rng *rand.Rand, X [][]float64, idx []int, depth, limit int) *isoNode {
	if depth >= limit || len(idx) <= 1 {
		return &isoNode{size: len(idx)}
	}

	width := len(X[idx[0]])
	lo := make([]float64, width)
	hi := make([]float64, width)
	copy(lo, X[idx[0]])
	copy(hi, X[idx[0]])
	for _, i := range idx[1:] {
		for j, v := range X[i] {
			lo[j] = math.Min(lo[j], v)
			hi[j] = math.Max(hi[j], v)
		}
	}

	var candidates []int
	for j := range width {
		if hi[j] > lo[j] {
			candidates = append(candidates, j)
		}
	}
	// Every sample identical: nothing left to isolate.
	if len(candidates) == 0 {
		return &isoNode{size: len(idx)}
	}

	feature := candidates[rng.IntN(len(candidates))]
	threshold := lo[feature] + rng.Float64()*(hi[feature]-lo[feature])

	// threshold is in [lo, hi), so both sides are non-empty.
	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &isoNode{
		feature:   feature,
		threshold: threshold,
		left:      buildTree(rng, X, left, depth+1, limit),
		right:     buildTree(rng, X, right, depth+1, limit),
	}
}

// pathLength is the depth at which x lands plus the expected remaining depth
// of an unbuilt subtree holding the leaf's samples.
func pathLength(n *isoNode, x []float64) float64 {
	depth := 0
	for !n.leaf() {
		if x[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.size)
}

// averagePathLength is c(n), the mean path length of an unsuccessful BST
// search among n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

func (f *IsolationForest) scoreSamples(X [][]float64) []float64 {
	norm := averagePathLength(f.sampleSize)
	out := make([]float64, len(X))
	for i, x := range X {
		var total float64
		for _, t := range f.trees {
			total += pathLength(t, x)
		}
		ratio := 1.0
		if norm != 0 {
			ratio = total / float64(len(f.trees)) / norm
		}
		out[i] = -math.Pow(2, -ratio)
	}
	return out
}

// ScoreSamples returns -2^(-E[h(x)]/c(psi)) per row; lower is more anomalous.
func (f *IsolationForest) ScoreSamples(X [][]float64) ([]float64, error) {
	if f.trees == nil {
		return nil, errNotFitted
	}
	return f.scoreSamples(X), nil
}

// Decision returns ScoreSamples minus the fitted offset. Negative means outlier.
func (f *IsolationForest) Decision(X [][]float64) ([]float64, error) {
	scores, err := f.ScoreSamples(X)
	if err != nil {
		return nil, err
	}
	for i := range scores {
		scores[i] -= f.offset
	}
	return scores, nil
}

// Offset is the decision threshold learned by Fit.
func (f *IsolationForest) Offset() float64 { return f.offset }

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	s := slices.Clone(values)
	slices.Sort(s)

	rank := p / 100 * float64(len(s)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return s[lo]
	}
	return s[lo] + (s[hi]-s[lo])*(rank-float64(lo))
}
