// Package monitoring 收集服务运行指标并导出为Prometheus文本格式
package monitoring

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType 指标类型
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// DefaultLatencyBuckets 请求耗时直方图的默认桶（秒）
var DefaultLatencyBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// Metric 某个标签组合下的指标值
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Help      string            `json:"help,omitempty"`

	// 仅直方图使用
	Count        uint64    `json:"count,omitempty"`
	Buckets      []float64 `json:"buckets,omitempty"`
	BucketCounts []uint64  `json:"bucket_counts,omitempty"`
}

// MetricsCollector 指标收集器，并发安全
type MetricsCollector struct {
	mu      sync.RWMutex
	series  map[string]*Metric
	help    map[string]string
	started time.Time
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		series:  make(map[string]*Metric),
		help:    make(map[string]string),
		started: time.Now(),
	}
}

// Describe 设置指标说明，导出时作为HELP行
func (mc *MetricsCollector) Describe(name, help string) {
	mc.mu.Lock()
	mc.help[name] = help
	mc.mu.Unlock()
}

// IncrCounter 增加计数器
func (mc *MetricsCollector) IncrCounter(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	m := mc.lookup(name, MetricTypeCounter, labels)
	m.Value += value
	m.Timestamp = time.Now()
}

// SetGauge 设置仪表
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	m := mc.lookup(name, MetricTypeGauge, labels)
	m.Value = value
	m.Timestamp = time.Now()
}

// RecordHistogram 记录一次观测，buckets只在首次创建时生效
func (mc *MetricsCollector) RecordHistogram(name string, value float64, labels map[string]string, buckets []float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	m := mc.lookup(name, MetricTypeHistogram, labels)
	if m.Buckets == nil {
		m.Buckets = append([]float64(nil), buckets...)
		sort.Float64s(m.Buckets)
		m.BucketCounts = make([]uint64, len(m.Buckets))
	}
	for i, upper := range m.Buckets {
		if value <= upper {
			m.BucketCounts[i]++
		}
	}
	m.Count++
	m.Value += value
	m.Timestamp = time.Now()
}

// lookup 调用方持有写锁
func (mc *MetricsCollector) lookup(name string, typ MetricType, labels map[string]string) *Metric {
	key := name + formatLabels(labels, "", "")
	m, ok := mc.series[key]
	if !ok {
		copied := make(map[string]string, len(labels))
		for k, v := range labels {
			copied[k] = v
		}
		m = &Metric{Name: name, Type: typ, Labels: copied}
		mc.series[key] = m
	}
	return m
}

// GetMetric 返回某指标所有标签组合的副本
func (mc *MetricsCollector) GetMetric(name string) ([]Metric, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	var result []Metric
	for _, m := range mc.series {
		if m.Name == name {
			result = append(result, *m)
		}
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("metric %s not found", name)
	}
	sort.Slice(result, func(i, j int) bool {
		return formatLabels(result[i].Labels, "", "") < formatLabels(result[j].Labels, "", "")
	})
	return result, nil
}

// Value 返回计数器或仪表的当前值，不存在时为0
func (mc *MetricsCollector) Value(name string, labels map[string]string) float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	if m, ok := mc.series[name+formatLabels(labels, "", "")]; ok {
		return m.Value
	}
	return 0
}

// ExportPrometheus 导出Prometheus文本格式，按指标名排序
func (mc *MetricsCollector) ExportPrometheus() string {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	byName := make(map[string][]*Metric)
	for _, m := range mc.series {
		byName[m.Name] = append(byName[m.Name], m)
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		list := byName[name]
		sort.Slice(list, func(i, j int) bool {
			return formatLabels(list[i].Labels, "", "") < formatLabels(list[j].Labels, "", "")
		})
		help := mc.help[name]
		if help == "" {
			help = fmt.Sprintf("Metric %s", name)
		}
		fmt.Fprintf(&b, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, list[0].Type)

		for _, m := range list {
			if m.Type != MetricTypeHistogram {
				fmt.Fprintf(&b, "%s%s %g\n", name, formatLabels(m.Labels, "", ""), m.Value)
				continue
			}
			for i, upper := range m.Buckets {
				fmt.Fprintf(&b, "%s_bucket%s %d\n", name, formatLabels(m.Labels, "le", fmt.Sprintf("%g", upper)), m.BucketCounts[i])
			}
			fmt.Fprintf(&b, "%s_bucket%s %d\n", name, formatLabels(m.Labels, "le", "+Inf"), m.Count)
			fmt.Fprintf(&b, "%s_sum%s %g\n", name, formatLabels(m.Labels, "", ""), m.Value)
			fmt.Fprintf(&b, "%s_count%s %d\n", name, formatLabels(m.Labels, "", ""), m.Count)
		}
	}
	return b.String()
}

// GetUptime 获取运行时间
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.started)
}

// GetSystemStats 获取进程统计
func (mc *MetricsCollector) GetSystemStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"uptime":     mc.GetUptime().String(),
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc":        m.Alloc,
			"sys":          m.Sys,
			"heap_alloc":   m.HeapAlloc,
			"heap_inuse":   m.HeapInuse,
			"heap_objects": m.HeapObjects,
			"gc_count":     m.NumGC,
		},
		"num_cpu": runtime.NumCPU(),
	}
}

// formatLabels 按键排序输出 {k="v",...}，extraKey非空时追加在末尾
func formatLabels(labels map[string]string, extraKey, extraValue string) string {
	if len(labels) == 0 && extraKey == "" {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	if extraKey != "" {
		parts = append(parts, fmt.Sprintf("%s=%q", extraKey, extraValue))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
