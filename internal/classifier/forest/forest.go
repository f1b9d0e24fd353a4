// Package forest 实现带 bootstrap 与特征子采样的随机森林分类器。
package forest

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"optpath/internal/classifier"
)

const (
	defaultTrees   = 100
	defaultMinLeaf = 1
)

// Config 控制森林规模与随机性；MaxDepth=0 表示不限深度，MaxFeatures=0 表示 sqrt(特征数)。
type Config struct {
	Trees       int   `json:"trees"`
	MaxDepth    int   `json:"max_depth"`
	MinLeaf     int   `json:"min_leaf"`
	MaxFeatures int   `json:"max_features"`
	Seed        int64 `json:"seed"`
	Workers     int   `json:"workers"`
}

func (c Config) withDefaults() Config {
	if c.Trees <= 0 {
		c.Trees = defaultTrees
	}
	if c.MinLeaf <= 0 {
		c.MinLeaf = defaultMinLeaf
	}
	if c.MaxDepth < 0 {
		c.MaxDepth = 0
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	return c
}

// Trainer 按固定配置训练随机森林，满足 classifier.Trainer。
type Trainer struct {
	cfg Config
}

func NewTrainer(cfg Config) *Trainer {
	return &Trainer{cfg: cfg.withDefaults()}
}

func (t *Trainer) Config() Config { return t.cfg }

// Fit 每次调用都训练一片全新的森林；相同输入与 Seed 得到相同模型。
func (t *Trainer) Fit(features [][]float64, labels []int) (classifier.Model, error) {
	return t.FitForest(features, labels)
}

// FitForest 与 Fit 相同，但返回具体类型。
func (t *Trainer) FitForest(features [][]float64, labels []int) (*Forest, error) {
	if err := classifier.CheckShape(features, labels); err != nil {
		return nil, err
	}
	classes := uniqueSorted(labels)
	classIdx := make(map[int]int, len(classes))
	for i, c := range classes {
		classIdx[c] = i
	}
	y := make([]int, len(labels))
	for i, l := range labels {
		y[i] = classIdx[l]
	}
	width := len(features[0])
	mtry := t.cfg.MaxFeatures
	if mtry <= 0 {
		mtry = int(math.Sqrt(float64(width)))
	}
	if mtry < 1 {
		mtry = 1
	}
	if mtry > width {
		mtry = width
	}

	n := len(features)
	trees := make([]*node, t.cfg.Trees)
	var g errgroup.Group
	g.SetLimit(t.cfg.Workers)
	for i := range trees {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(t.cfg.Seed + int64(i)*7919))
			sample := make([]int, n)
			for k := range sample {
				sample[k] = rng.Intn(n)
			}
			b := &treeBuilder{
				x:        features,
				y:        y,
				nClasses: len(classes),
				maxDepth: t.cfg.MaxDepth,
				minLeaf:  t.cfg.MinLeaf,
				mtry:     mtry,
				rng:      rng,
			}
			trees[i] = b.build(sample, 0)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Forest{trees: trees, classes: classes, width: width}, nil
}

// Forest 是训练好的随机森林。
type Forest struct {
	trees   []*node
	classes []int
	width   int
}

// Classes 返回升序的类别标签。
func (f *Forest) Classes() []int {
	return append([]int(nil), f.classes...)
}

// Proba 返回单行在各类别上的平均概率（顺序同 Classes）。
func (f *Forest) Proba(row []float64) []float64 {
	out := make([]float64, len(f.classes))
	for _, t := range f.trees {
		for k, p := range t.predict(row) {
			out[k] += p
		}
	}
	for k := range out {
		out[k] /= float64(len(f.trees))
	}
	return out
}

// Predict 对每行取平均概率最大的类别；并列时取标签较小者。
func (f *Forest) Predict(features [][]float64) ([]int, error) {
	out := make([]int, len(features))
	for i, row := range features {
		if len(row) != f.width {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", classifier.ErrShapeMismatch, i, len(row), f.width)
		}
		proba := f.Proba(row)
		best := 0
		for k := 1; k < len(proba); k++ {
			if proba[k] > proba[best] {
				best = k
			}
		}
		out[i] = f.classes[best]
	}
	return out, nil
}

func uniqueSorted(labels []int) []int {
	seen := make(map[int]struct{}, 3)
	var out []int
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}
