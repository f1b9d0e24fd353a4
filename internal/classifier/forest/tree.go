package forest

import (
	"math/rand"
	"sort"
)

// node 是 CART 树节点；left == nil 时为叶子，proba 为各类别占比。
type node struct {
	feature   int
	threshold float64
	left      *node
	right     *node
	proba     []float64
}

func (n *node) leaf() bool { return n.left == nil }

func (n *node) predict(row []float64) []float64 {
	cur := n
	for !cur.leaf() {
		if row[cur.feature] <= cur.threshold {
			cur = cur.left
		} else {
			cur = cur.right
		}
	}
	return cur.proba
}

type treeBuilder struct {
	x        [][]float64
	y        []int // 类别下标
	nClasses int
	maxDepth int
	minLeaf  int
	mtry     int
	rng      *rand.Rand
}

func (b *treeBuilder) counts(idx []int) []int {
	c := make([]int, b.nClasses)
	for _, i := range idx {
		c[b.y[i]]++
	}
	return c
}

func gini(counts []int, total int) float64 {
	if total == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		sum += p * p
	}
	return 1 - sum
}

func (b *treeBuilder) makeLeaf(counts []int, total int) *node {
	proba := make([]float64, b.nClasses)
	if total > 0 {
		for k, c := range counts {
			proba[k] = float64(c) / float64(total)
		}
	}
	return &node{proba: proba}
}

func (b *treeBuilder) build(idx []int, depth int) *node {
	counts := b.counts(idx)
	total := len(idx)
	parent := gini(counts, total)
	if parent == 0 || total < 2*b.minLeaf || (b.maxDepth > 0 && depth >= b.maxDepth) {
		return b.makeLeaf(counts, total)
	}

	width := len(b.x[idx[0]])
	feats := b.rng.Perm(width)[:b.mtry]
	bestScore := parent
	bestFeature := -1
	bestThreshold := 0.0

	sorted := make([]int, total)
	left := make([]int, b.nClasses)
	right := make([]int, b.nClasses)
	for _, f := range feats {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(i, j int) bool { return b.x[sorted[i]][f] < b.x[sorted[j]][f] })
		for k := range left {
			left[k] = 0
		}
		copy(right, counts)
		for pos := 1; pos < total; pos++ {
			cls := b.y[sorted[pos-1]]
			left[cls]++
			right[cls]--
			if pos < b.minLeaf || total-pos < b.minLeaf {
				continue
			}
			lo, hi := b.x[sorted[pos-1]][f], b.x[sorted[pos]][f]
			if lo == hi {
				continue
			}
			score := (float64(pos)*gini(left, pos) + float64(total-pos)*gini(right, total-pos)) / float64(total)
			if score < bestScore-1e-12 {
				bestScore = score
				bestFeature = f
				bestThreshold = lo + (hi-lo)/2
			}
		}
	}
	if bestFeature < 0 {
		return b.makeLeaf(counts, total)
	}

	var li, ri []int
	for _, i := range idx {
		if b.x[i][bestFeature] <= bestThreshold {
			li = append(li, i)
		} else {
			ri = append(ri, i)
		}
	}
	if len(li) == 0 || len(ri) == 0 {
		return b.makeLeaf(counts, total)
	}
	return &node{
		feature:   bestFeature,
		threshold: bestThreshold,
		left:      b.build(li, depth+1),
		right:     b.build(ri, depth+1),
	}
}
