package ml

import "math"

// SparseVector 一行的非零元素，下标升序
type SparseVector struct {
	Indices []int     `json:"indices"`
	Values  []float64 `json:"values"`
}

// Dot 与稠密向量w的点积
func (v SparseVector) Dot(w []float64) float64 {
	var sum float64
	for i, idx := range v.Indices {
		if idx < len(w) {
			sum += v.Values[i] * w[idx]
		}
	}
	return sum
}

// Norm L2范数
func (v SparseVector) Norm() float64 {
	var sum float64
	for _, value := range v.Values {
		sum += value * value
	}
	return math.Sqrt(sum)
}

// Dense 展开为指定宽度的切片
func (v SparseVector) Dense(width int) []float64 {
	out := make([]float64, width)
	for i, idx := range v.Indices {
		if idx < width {
			out[idx] = v.Values[i]
		}
	}
	return out
}

// Matrix 列数固定的按行稀疏矩阵
type Matrix struct {
	Rows []SparseVector
	Cols int
}

func (m Matrix) Len() int {
	return len(m.Rows)
}

// Subset 按给定下标顺序取行
func (m Matrix) Subset(indices []int) Matrix {
	rows := make([]SparseVector, len(indices))
	for i, idx := range indices {
		rows[i] = m.Rows[idx]
	}
	return Matrix{Rows: rows, Cols: m.Cols}
}
