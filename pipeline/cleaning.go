package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jaytaylor/html2text"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// CleaningRule 清洗规则
type CleaningRule interface {
	Apply(*Record) (*Record, error)
	Name() string
}

// QualityIssue 质量问题
type QualityIssue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // low/medium/high
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Row       int       `json:"row"`
}

// DataCleaner 数据清洗器
type DataCleaner struct {
	rules      []CleaningRule
	issues     []QualityIssue
	issuesLock sync.RWMutex

	stats     CleaningStats
	statsLock sync.RWMutex

	logger *zap.Logger
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Corrected      int64            `json:"corrected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// NewDataCleaner 创建带默认规则的数据清洗器
func NewDataCleaner(logger *zap.Logger) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := &DataCleaner{
		rules:  make([]CleaningRule, 0),
		issues: make([]QualityIssue, 0),
		stats: CleaningStats{
			Issues: make(map[string]int64),
		},
		logger: logger,
	}

	// 顺序有意义：先修正文本，再做校验和去重
	cleaner.AddRule(NewHTMLStripRule())
	cleaner.AddRule(NewWhitespaceRule())
	cleaner.AddRule(NewEmptyTextRule())
	cleaner.AddRule(NewLabelValidationRule())
	cleaner.AddRule(NewDuplicateDetectionRule())

	return cleaner
}

// AddRule 添加清洗规则
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	dc.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean 清洗数据，返回通过的样本与发现的问题
func (dc *DataCleaner) Clean(records []Record) ([]Record, []QualityIssue) {
	var cleaned []Record
	var issues []QualityIssue

	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	for i := range records {
		dc.stats.TotalProcessed++

		original := records[i]
		record := &Record{Text: original.Text, Label: original.Label}
		var recordIssues []QualityIssue

		for _, rule := range dc.rules {
			cleanedRecord, err := rule.Apply(record)
			if err != nil {
				recordIssues = append(recordIssues, QualityIssue{
					Type:      rule.Name(),
					Severity:  "high",
					Message:   err.Error(),
					Timestamp: time.Now(),
					Row:       i + 1,
				})
				dc.recordIssue(rule.Name())
				// 被拒绝的样本不再参与后续规则（例如去重）
				break
			}
			if cleanedRecord != nil {
				record = cleanedRecord
			}
		}

		if len(recordIssues) > 0 {
			dc.stats.Rejected++
			issues = append(issues, recordIssues...)
			dc.issuesLock.Lock()
			dc.issues = append(dc.issues, recordIssues...)
			dc.issuesLock.Unlock()
			continue
		}
		if *record != original {
			dc.stats.Corrected++
		}
		dc.stats.Passed++
		cleaned = append(cleaned, *record)
	}

	dc.stats.LastClean = time.Now()
	dc.logger.Info("dataset cleaned",
		zap.Int("input", len(records)),
		zap.Int("kept", len(cleaned)),
		zap.Int("issues", len(issues)))

	return cleaned, issues
}

// recordIssue 记录问题
func (dc *DataCleaner) recordIssue(issueType string) {
	dc.stats.Issues[issueType]++
}

// GetStats 获取统计信息
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.statsLock.RLock()
	defer dc.statsLock.RUnlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// GetIssues 获取最近的问题列表
func (dc *DataCleaner) GetIssues(limit int) []QualityIssue {
	dc.issuesLock.RLock()
	defer dc.issuesLock.RUnlock()

	if limit <= 0 || limit > len(dc.issues) {
		limit = len(dc.issues)
	}

	issues := make([]QualityIssue, limit)
	copy(issues, dc.issues[len(dc.issues)-limit:])
	return issues
}

// ClearIssues 清空问题列表
func (dc *DataCleaner) ClearIssues() {
	dc.issuesLock.Lock()
	defer dc.issuesLock.Unlock()

	dc.issues = make([]QualityIssue, 0)
}

// ============ 清洗规则实现 ============

var htmlTagPattern = regexp.MustCompile(`<[a-zA-Z/][^>]*>`)

// HTMLStripRule 去除HTML标签（评论数据常见 <br /> 等）
type HTMLStripRule struct{}

func NewHTMLStripRule() *HTMLStripRule {
	return &HTMLStripRule{}
}

func (r *HTMLStripRule) Name() string {
	return "html_strip"
}

func (r *HTMLStripRule) Apply(record *Record) (*Record, error) {
	if !htmlTagPattern.MatchString(record.Text) {
		return record, nil
	}
	text, err := html2text.FromString(record.Text, html2text.Options{OmitLinks: true})
	if err != nil {
		return nil, fmt.Errorf("strip html: %w", err)
	}
	record.Text = text
	return record, nil
}

// WhitespaceRule 规范化Unicode并合并多余空白
type WhitespaceRule struct{}

func NewWhitespaceRule() *WhitespaceRule {
	return &WhitespaceRule{}
}

func (r *WhitespaceRule) Name() string {
	return "whitespace"
}

func (r *WhitespaceRule) Apply(record *Record) (*Record, error) {
	record.Text = strings.Join(strings.Fields(norm.NFC.String(record.Text)), " ")
	return record, nil
}

// EmptyTextRule 拒绝空文本
type EmptyTextRule struct{}

func NewEmptyTextRule() *EmptyTextRule {
	return &EmptyTextRule{}
}

func (r *EmptyTextRule) Name() string {
	return "empty_text"
}

func (r *EmptyTextRule) Apply(record *Record) (*Record, error) {
	if strings.TrimSpace(record.Text) == "" {
		return nil, fmt.Errorf("text is empty")
	}
	return record, nil
}

// LabelValidationRule 标签必须是0或1
type LabelValidationRule struct{}

func NewLabelValidationRule() *LabelValidationRule {
	return &LabelValidationRule{}
}

func (r *LabelValidationRule) Name() string {
	return "label_validation"
}

func (r *LabelValidationRule) Apply(record *Record) (*Record, error) {
	if record.Label != 0 && record.Label != 1 {
		return nil, fmt.Errorf("label must be 0 or 1, got %d", record.Label)
	}
	return record, nil
}

// DuplicateDetectionRule 重复检测规则（忽略大小写）
type DuplicateDetectionRule struct {
	seenMap map[string]struct{}
	mu      sync.Mutex
}

func NewDuplicateDetectionRule() *DuplicateDetectionRule {
	return &DuplicateDetectionRule{
		seenMap: make(map[string]struct{}),
	}
}

func (r *DuplicateDetectionRule) Name() string {
	return "duplicate_detection"
}

func (r *DuplicateDetectionRule) Apply(record *Record) (*Record, error) {
	key := strings.ToLower(record.Text)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.seenMap[key]; exists {
		return nil, fmt.Errorf("duplicate text: %q", truncate(record.Text, 40))
	}

	r.seenMap[key] = struct{}{}
	return record, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
