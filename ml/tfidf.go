package ml

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"
	"os"
	"sort"

	"github.com/pkg/errors"
)

const DefaultMaxFeatures = 1000

// Encoder 固定词表上的TF-IDF向量化器
type Encoder struct {
	MaxFeatures int
	terms       []string
	idf         []float64
	documents   int
	index       map[string]int
}

type encoderArtifact struct {
	MaxFeatures int       `json:"max_features"`
	Documents   int       `json:"documents"`
	Terms       []string  `json:"terms"`
	IDF         []float64 `json:"idf"`
	Fingerprint string    `json:"fingerprint"`
}

func NewEncoder(maxFeatures int) *Encoder {
	if maxFeatures <= 0 {
		maxFeatures = DefaultMaxFeatures
	}
	return &Encoder{MaxFeatures: maxFeatures}
}

// Fit 从语料构建词表。按文档频率、总词频、字典序排序取前MaxFeatures个，
// 保留的词按字典序存储
func (e *Encoder) Fit(corpus []string) error {
	if len(corpus) == 0 {
		return ErrEmptyCorpus
	}
	if e.MaxFeatures <= 0 {
		e.MaxFeatures = DefaultMaxFeatures
	}

	docFreq := make(map[string]int)
	totals := make(map[string]int)
	for _, doc := range corpus {
		seen := make(map[string]bool)
		for _, tok := range ContentTokens(doc) {
			totals[tok]++
			if !seen[tok] {
				seen[tok] = true
				docFreq[tok]++
			}
		}
	}
	if len(docFreq) == 0 {
		return ErrEmptyVocabulary
	}

	ranked := make([]string, 0, len(docFreq))
	for term := range docFreq {
		ranked = append(ranked, term)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if docFreq[a] != docFreq[b] {
			return docFreq[a] > docFreq[b]
		}
		if totals[a] != totals[b] {
			return totals[a] > totals[b]
		}
		return a < b
	})
	if len(ranked) > e.MaxFeatures {
		ranked = ranked[:e.MaxFeatures]
	}
	sort.Strings(ranked)

	n := float64(len(corpus))
	idf := make([]float64, len(ranked))
	for i, term := range ranked {
		idf[i] = math.Log((1+n)/(1+float64(docFreq[term]))) + 1
	}

	e.terms = ranked
	e.idf = idf
	e.documents = len(corpus)
	e.buildIndex()
	return nil
}

func (e *Encoder) buildIndex() {
	e.index = make(map[string]int, len(e.terms))
	for i, term := range e.terms {
		e.index[term] = i
	}
}

func (e *Encoder) fitted() bool {
	return len(e.terms) > 0 && len(e.terms) == len(e.idf)
}

// Width 每行特征数
func (e *Encoder) Width() int {
	return len(e.terms)
}

// Vocabulary 按列顺序返回词表
func (e *Encoder) Vocabulary() []string {
	return append([]string(nil), e.terms...)
}

// TransformOne 把一段文本编码为L2归一化的TF-IDF行
func (e *Encoder) TransformOne(text string) (SparseVector, error) {
	if !e.fitted() {
		return SparseVector{}, ErrNotFitted
	}
	counts := make(map[int]int)
	for _, tok := range Tokenize(text) {
		if idx, ok := e.index[tok]; ok {
			counts[idx]++
		}
	}

	indices := make([]int, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	row := SparseVector{Indices: indices, Values: make([]float64, len(indices))}
	for i, idx := range indices {
		row.Values[i] = float64(counts[idx]) * e.idf[idx]
	}
	if norm := row.Norm(); norm > 0 {
		for i := range row.Values {
			row.Values[i] /= norm
		}
	}
	return row, nil
}

func (e *Encoder) Transform(texts []string) (Matrix, error) {
	if !e.fitted() {
		return Matrix{}, ErrNotFitted
	}
	rows := make([]SparseVector, len(texts))
	for i, text := range texts {
		row, err := e.TransformOne(text)
		if err != nil {
			return Matrix{}, err
		}
		rows[i] = row
	}
	return Matrix{Rows: rows, Cols: e.Width()}, nil
}

// Fingerprint 词表和权重的摘要，分类器保存它以便加载时拒绝不匹配的编码器
func (e *Encoder) Fingerprint() string {
	if !e.fitted() {
		return ""
	}
	h := sha256.New()
	var buf [8]byte
	for i, term := range e.terms {
		h.Write([]byte(term))
		h.Write([]byte{0})
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(e.idf[i]))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (e *Encoder) Save(path string) error {
	if !e.fitted() {
		return ErrNotFitted
	}
	payload, err := json.Marshal(encoderArtifact{
		MaxFeatures: e.MaxFeatures,
		Documents:   e.documents,
		Terms:       e.terms,
		IDF:         e.idf,
		Fingerprint: e.Fingerprint(),
	})
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, payload, 0o600), "write encoder %s", path)
}

func (e *Encoder) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read encoder %s", path)
	}
	var artifact encoderArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return errors.Wrapf(ErrCorruptArtifact, "decode encoder %s: %v", path, err)
	}
	if len(artifact.Terms) == 0 || len(artifact.Terms) != len(artifact.IDF) {
		return errors.Wrapf(ErrCorruptArtifact, "encoder %s has %d terms and %d weights",
			path, len(artifact.Terms), len(artifact.IDF))
	}

	loaded := Encoder{
		MaxFeatures: artifact.MaxFeatures,
		terms:       artifact.Terms,
		idf:         artifact.IDF,
		documents:   artifact.Documents,
	}
	if got := loaded.Fingerprint(); got != artifact.Fingerprint {
		return errors.Wrapf(ErrCorruptArtifact, "encoder %s fingerprint %s, stored %s",
			path, got, artifact.Fingerprint)
	}
	loaded.buildIndex()
	*e = loaded
	return nil
}

// LoadEncoder 读取Save保存的编码器
func LoadEncoder(path string) (*Encoder, error) {
	e := &Encoder{}
	if err := e.Load(path); err != nil {
		return nil, err
	}
	return e, nil
}
