// Package classifier 定义可替换的分类能力：Fit 产出一个全新的模型实例，Predict 输出 {-1,0,1} 标签。
package classifier

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyTrainingSet = errors.New("empty training set")
	ErrShapeMismatch    = errors.New("features and labels differ in length")
)

// Model 是训练完成的分类器。
type Model interface {
	Predict(features [][]float64) ([]int, error)
}

// Trainer 每次 Fit 都必须返回独立的新模型，不得复用或热启动之前的实例。
type Trainer interface {
	Fit(features [][]float64, labels []int) (Model, error)
}

// TrainerFunc 让普通函数满足 Trainer。
type TrainerFunc func(features [][]float64, labels []int) (Model, error)

func (f TrainerFunc) Fit(features [][]float64, labels []int) (Model, error) {
	return f(features, labels)
}

// CheckShape 校验训练输入的基本形状。
func CheckShape(features [][]float64, labels []int) error {
	if len(features) == 0 {
		return ErrEmptyTrainingSet
	}
	if len(features) != len(labels) {
		return fmt.Errorf("%w: %d rows, %d labels", ErrShapeMismatch, len(features), len(labels))
	}
	width := len(features[0])
	for i, row := range features {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrShapeMismatch, i, len(row), width)
		}
	}
	return nil
}
