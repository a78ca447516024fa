package ml

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

const (
	DefaultTestSize = 0.2
	DefaultSeed     = 42
)

// StratifiedSplit 用固定种子打乱行号并分层划分训练集和测试集，两边保持类别比例。
// 相同的labels、testSize和seed总是得到相同划分
func StratifiedSplit(labels []int, testSize float64, seed int64) (train, test []int, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, errors.Wrapf(ErrInvalidHyperparameter, "test size must be in (0,1), got %v", testSize)
	}
	n := len(labels)
	nTest := int(math.Ceil(testSize * float64(n)))
	nTrain := n - nTest

	byClass := make(map[int][]int)
	for i, label := range labels {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	for class := range byClass {
		classes = append(classes, class)
	}
	sort.Ints(classes)

	if nTest < len(classes) || nTrain < len(classes) {
		return nil, nil, errors.Errorf("%d rows are too few to split %d classes with test size %v",
			n, len(classes), testSize)
	}

	// 按最大余数法分配每类测试行数
	alloc := make([]int, len(classes))
	remainders := make([]float64, len(classes))
	assigned := 0
	for i, class := range classes {
		exact := float64(len(byClass[class])) * float64(nTest) / float64(n)
		alloc[i] = int(math.Floor(exact))
		remainders[i] = exact - float64(alloc[i])
		assigned += alloc[i]
	}
	order := make([]int, len(classes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]] > remainders[order[b]]
	})
	for k := 0; assigned < nTest; k++ {
		i := order[k%len(order)]
		if alloc[i] < len(byClass[classes[i]])-1 {
			alloc[i]++
			assigned++
		}
	}
	// 每类在两边至少保留一行
	for i, class := range classes {
		if alloc[i] == 0 {
			for j := range alloc {
				if alloc[j] > 1 {
					alloc[j]--
					alloc[i]++
					break
				}
			}
		}
		if alloc[i] >= len(byClass[class]) {
			return nil, nil, errors.Errorf("class %d has too few rows to split", class)
		}
	}

	rnd := rand.New(rand.NewSource(seed))
	for i, class := range classes {
		members := append([]int(nil), byClass[class]...)
		rnd.Shuffle(len(members), func(a, b int) { members[a], members[b] = members[b], members[a] })
		test = append(test, members[:alloc[i]]...)
		train = append(train, members[alloc[i]:]...)
	}
	rnd.Shuffle(len(train), func(a, b int) { train[a], train[b] = train[b], train[a] })
	rnd.Shuffle(len(test), func(a, b int) { test[a], test[b] = test[b], test[a] })
	return train, test, nil
}

// SelectLabels 按下标取标签
func SelectLabels(labels []int, indices []int) []int {
	out := make([]int, len(indices))
	for i, idx := range indices {
		out[i] = labels[idx]
	}
	return out
}
