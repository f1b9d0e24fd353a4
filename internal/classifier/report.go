package classifier

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ClassMetrics 是单个标签的 precision/recall/F1。
type ClassMetrics struct {
	Label     int     `json:"label" yaml:"label"`
	Precision float64 `json:"precision" yaml:"precision"`
	Recall    float64 `json:"recall" yaml:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support" yaml:"support"`
}

// Report 汇总一次留出集评估。
type Report struct {
	Classes  []ClassMetrics `json:"classes" yaml:"classes"`
	Accuracy float64        `json:"accuracy" yaml:"accuracy"`
	Total    int            `json:"total" yaml:"total"`
}

// Evaluate 对比真实标签与预测标签，按标签升序输出。
func Evaluate(truth, pred []int) (Report, error) {
	if len(truth) != len(pred) {
		return Report{}, fmt.Errorf("%w: %d truth, %d predicted", ErrShapeMismatch, len(truth), len(pred))
	}
	labels := map[int]struct{}{}
	for _, v := range truth {
		labels[v] = struct{}{}
	}
	for _, v := range pred {
		labels[v] = struct{}{}
	}
	keys := make([]int, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	rep := Report{Total: len(truth)}
	correct := 0
	for i := range truth {
		if truth[i] == pred[i] {
			correct++
		}
	}
	if len(truth) > 0 {
		rep.Accuracy = float64(correct) / float64(len(truth))
	}
	for _, label := range keys {
		var tp, fp, fn int
		for i := range truth {
			switch {
			case pred[i] == label && truth[i] == label:
				tp++
			case pred[i] == label:
				fp++
			case truth[i] == label:
				fn++
			}
		}
		m := ClassMetrics{Label: label, Support: tp + fn}
		if tp+fp > 0 {
			m.Precision = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			m.Recall = float64(tp) / float64(tp+fn)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		rep.Classes = append(rep.Classes, m)
	}
	return rep, nil
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%8s %10s %10s %10s %8s\n", "label", "precision", "recall", "f1", "support")
	for _, c := range r.Classes {
		fmt.Fprintf(&b, "%8d %10.2f %10.2f %10.2f %8d\n", c.Label, c.Precision, c.Recall, c.F1, c.Support)
	}
	fmt.Fprintf(&b, "%8s %32.2f %8d", "accuracy", r.Accuracy, r.Total)
	return b.String()
}

// SplitTail 按时间顺序切分（不打乱），testFrac 为尾部比例。
func SplitTail(features [][]float64, labels []int, testFrac float64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	n := len(features)
	if testFrac <= 0 || testFrac >= 1 || n < 2 {
		return features, labels, nil, nil
	}
	cut := n - int(math.Ceil(float64(n)*testFrac))
	if cut < 1 {
		cut = 1
	}
	return features[:cut], labels[:cut], features[cut:], labels[cut:]
}
