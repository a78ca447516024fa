package pipeline

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

// RequiredColumns 数据集必须包含的列
var RequiredColumns = []string{"text", "label"}

// Record 数据集中的一条样本
type Record struct {
	Text  string `csv:"text"`
	Label int    `csv:"label"`
}

// rawRecord label先按字符串读入，便于给出明确的校验错误
type rawRecord struct {
	Text  string `csv:"text"`
	Label string `csv:"label"`
}

// ValidationError 数据集结构或取值不合法
type ValidationError struct {
	Path   string
	Row    int // 数据行号从1开始，表头问题为0
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("invalid dataset %s: row %d: %s", e.Path, e.Row, e.Reason)
	}
	return fmt.Sprintf("invalid dataset %s: %s", e.Path, e.Reason)
}

// Dataset 已加载并校验的数据集
type Dataset struct {
	Path    string
	Records []Record
}

// Texts 返回全部文本
func (d *Dataset) Texts() []string {
	texts := make([]string, len(d.Records))
	for i, r := range d.Records {
		texts[i] = r.Text
	}
	return texts
}

// Labels 返回全部标签
func (d *Dataset) Labels() []int {
	labels := make([]int, len(d.Records))
	for i, r := range d.Records {
		labels[i] = r.Label
	}
	return labels
}

// Version 从文件名推导数据集版本，如 clean_data_v2.csv -> v2
func (d *Dataset) Version() string {
	return DatasetVersion(d.Path)
}

// DatasetVersion 取文件名最后一个"_"之后、扩展名之前的部分
func DatasetVersion(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if idx := strings.LastIndex(base, "_"); idx >= 0 {
		return base[idx+1:]
	}
	return base
}

// LoadDataset 加载CSV数据集并校验列与标签取值
func LoadDataset(path string) (*Dataset, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read dataset %s", path)
	}
	return ParseDataset(path, payload)
}

// ParseDataset 校验并解析CSV内容，path仅用于错误信息和版本推导
func ParseDataset(path string, payload []byte) (*Dataset, error) {
	if err := checkHeader(path, payload); err != nil {
		return nil, err
	}

	var rows []*rawRecord
	if err := gocsv.UnmarshalBytes(payload, &rows); err != nil {
		return nil, &ValidationError{Path: path, Reason: err.Error()}
	}
	if len(rows) == 0 {
		return nil, &ValidationError{Path: path, Reason: "dataset has no rows"}
	}

	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		label, err := parseLabel(row.Label)
		if err != nil {
			return nil, &ValidationError{Path: path, Row: i + 1, Reason: err.Error()}
		}
		if strings.TrimSpace(row.Text) == "" {
			return nil, &ValidationError{Path: path, Row: i + 1, Reason: "text is empty"}
		}
		records = append(records, Record{Text: row.Text, Label: label})
	}
	return &Dataset{Path: path, Records: records}, nil
}

// InvalidLabel 原始快照中无法解析的标签，交给LabelValidationRule拒绝
const InvalidLabel = -1

// LoadRawRecords 宽松读取原始快照：只校验表头，无法解析的标签记为InvalidLabel，
// 空文本原样保留，由DataCleaner处理
func LoadRawRecords(path string) ([]Record, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read dataset %s", path)
	}
	if err := checkHeader(path, payload); err != nil {
		return nil, err
	}
	var rows []*rawRecord
	if err := gocsv.UnmarshalBytes(payload, &rows); err != nil {
		return nil, &ValidationError{Path: path, Reason: err.Error()}
	}
	records := make([]Record, len(rows))
	for i, row := range rows {
		label, err := parseLabel(row.Label)
		if err != nil {
			label = InvalidLabel
		}
		records[i] = Record{Text: row.Text, Label: label}
	}
	return records, nil
}

// checkHeader 校验表头包含RequiredColumns
func checkHeader(path string, payload []byte) error {
	header, err := csv.NewReader(bytes.NewReader(payload)).Read()
	if err == io.EOF {
		return &ValidationError{Path: path, Reason: "file is empty"}
	}
	if err != nil {
		return &ValidationError{Path: path, Reason: err.Error()}
	}
	columns := make(map[string]bool, len(header))
	for _, col := range header {
		columns[strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))] = true
	}
	for _, required := range RequiredColumns {
		if !columns[required] {
			return &ValidationError{
				Path:   path,
				Reason: fmt.Sprintf("dataset must contain %q and %q columns, missing %q", "text", "label", required),
			}
		}
	}
	return nil
}

func parseLabel(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || (value != 0 && value != 1) {
		return 0, errors.Errorf("label must be 0 (negative) or 1 (positive), got %q", raw)
	}
	return int(value), nil
}

// WriteDataset 将样本写成带表头的CSV
func WriteDataset(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create dataset %s", path)
	}
	defer f.Close()

	rows := make([]*Record, len(records))
	for i := range records {
		rows[i] = &records[i]
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return errors.Wrapf(err, "write dataset %s", path)
	}
	return f.Close()
}
