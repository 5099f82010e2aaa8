package rules

import (
	"math"
	"math/rand"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/clearclaim/kestrel/internal/domain"
)

// Candidate numeric features for the outlier model, in fixed order.
var outlierColumns = []domain.Column{
	domain.ColClaimAmount,
	domain.ColMonthsAsCustomer,
	domain.ColAge,
	domain.ColAnnualPremium,
	domain.ColIncidentHour,
	domain.ColVehiclesInvolved,
}

// detectOutliers runs the isolation-based anomaly model over whichever
// candidate numeric columns the batch carries. Missing values are imputed
// with the column median and each column is standardized before scoring.
// The model is fully deterministic for a fixed config seed.
func detectOutliers(cfg Config, batch *domain.ClaimBatch, th domain.Thresholds) domain.DetectorFinding {
	var available []domain.Column
	for _, col := range outlierColumns {
		if batch.HasColumn(col) {
			available = append(available, col)
		}
	}
	if len(available) == 0 {
		return domain.NewFinding(domain.DetectorOutliers, "Statistical Outlier Detection", nil, domain.RiskLow)
	}

	matrix := featureMatrix(batch, available)
	standardize(matrix)

	n := len(matrix)
	forest := growForest(matrix, cfg.Trees, cfg.Seed)
	scores := forest.scoreAll(matrix)

	// Flag the top contamination share. Claims tied with the k-th ranked
	// score flag together, so identical records never diverge.
	k := int(math.Ceil(cfg.Contamination * float64(n)))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	cutoff := scores[order[k-1]]
	anomalous := make(map[int]bool, k)
	for _, idx := range order {
		if scores[idx] < cutoff {
			break
		}
		anomalous[idx] = true
	}

	var flagged []string
	for i := range batch.Claims {
		if anomalous[i] {
			flagged = append(flagged, batch.Claims[i].ID)
		}
	}

	return domain.NewFinding(domain.DetectorOutliers, "Statistical Outlier Detection", flagged, levelFor(flagged, domain.RiskMedium))
}

// featureMatrix builds one row per claim over the available columns,
// imputing absent values with the per-column median of present ones.
func featureMatrix(batch *domain.ClaimBatch, cols []domain.Column) [][]float64 {
	n := batch.Len()
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, len(cols))
	}

	for j, col := range cols {
		present := make([]float64, 0, n)
		for i := range batch.Claims {
			if v, ok := batch.Claims[i].Numeric(col); ok {
				present = append(present, v)
			}
		}
		median, err := stats.Median(present)
		if err != nil {
			median = 0
		}

		for i := range batch.Claims {
			v, ok := batch.Claims[i].Numeric(col)
			if !ok {
				v = median
			}
			matrix[i][j] = v
		}
	}

	return matrix
}

// standardize rescales each column in place to zero mean and unit
// variance. Constant columns are zeroed rather than divided by zero.
func standardize(matrix [][]float64) {
	if len(matrix) == 0 {
		return
	}
	cols := len(matrix[0])
	column := make([]float64, len(matrix))

	for j := 0; j < cols; j++ {
		for i := range matrix {
			column[i] = matrix[i][j]
		}
		mean, _ := stats.Mean(column)
		std, _ := stats.StandardDeviation(column)

		for i := range matrix {
			if std > 0 {
				matrix[i][j] = (matrix[i][j] - mean) / std
			} else {
				matrix[i][j] = 0
			}
		}
	}
}

// isoForest is an isolation forest: anomalies isolate in fewer random
// splits, so shorter average path lengths mean higher anomaly scores.
type isoForest struct {
	trees     []*isoNode
	subsample int
}

type isoNode struct {
	left, right *isoNode
	splitCol    int
	splitVal    float64
	size        int
}

const maxSubsample = 256

func growForest(matrix [][]float64, trees int, seed int64) *isoForest {
	n := len(matrix)
	psi := n
	if psi > maxSubsample {
		psi = maxSubsample
	}

	rng := rand.New(rand.NewSource(seed))
	heightLimit := int(math.Ceil(math.Log2(float64(psi))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	f := &isoForest{subsample: psi}
	for t := 0; t < trees; t++ {
		sample := rng.Perm(n)[:psi]
		f.trees = append(f.trees, growTree(matrix, sample, 0, heightLimit, rng))
	}
	return f
}

func growTree(matrix [][]float64, idx []int, depth, limit int, rng *rand.Rand) *isoNode {
	if len(idx) <= 1 || depth >= limit {
		return &isoNode{size: len(idx)}
	}

	cols := len(matrix[0])
	col := rng.Intn(cols)

	lo, hi := matrix[idx[0]][col], matrix[idx[0]][col]
	for _, i := range idx[1:] {
		v := matrix[i][col]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		return &isoNode{size: len(idx)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right []int
	for _, i := range idx {
		if matrix[i][col] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &isoNode{
		left:     growTree(matrix, left, depth+1, limit, rng),
		right:    growTree(matrix, right, depth+1, limit, rng),
		splitCol: col,
		splitVal: split,
		size:     len(idx),
	}
}

// pathLength walks the point down the tree, adding the average-path
// adjustment c(size) when it lands in a multi-point leaf.
func (node *isoNode) pathLength(point []float64, depth float64) float64 {
	if node.left == nil {
		return depth + avgPath(node.size)
	}
	if point[node.splitCol] < node.splitVal {
		return node.left.pathLength(point, depth+1)
	}
	return node.right.pathLength(point, depth+1)
}

// avgPath is c(n), the average search path length of an unsuccessful BST
// lookup among n points.
func avgPath(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649015329
	return 2*h - 2*float64(n-1)/float64(n)
}

func (f *isoForest) scoreAll(matrix [][]float64) []float64 {
	norm := avgPath(f.subsample)
	if norm == 0 {
		norm = 1
	}

	scores := make([]float64, len(matrix))
	for i, point := range matrix {
		total := 0.0
		for _, tree := range f.trees {
			total += tree.pathLength(point, 0)
		}
		mean := total / float64(len(f.trees))
		scores[i] = math.Pow(2, -mean/norm)
	}
	return scores
}
