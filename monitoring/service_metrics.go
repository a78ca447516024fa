package monitoring

import (
	"strconv"
	"time"
)

const (
	HTTPRequestsTotal    = "http_requests_total"
	HTTPRequestDuration  = "http_request_duration_seconds"
	ClassificationsTotal = "classifications_total"
	ClassifyDuration     = "classify_duration_seconds"
	TrainingRunsTotal    = "training_runs_total"
	WebSocketConnections = "websocket_connections"
)

// ServiceMetrics 分类服务的业务指标
type ServiceMetrics struct {
	*MetricsCollector
}

// NewServiceMetrics 创建业务指标并注册说明
func NewServiceMetrics() *ServiceMetrics {
	mc := NewMetricsCollector()
	mc.Describe(HTTPRequestsTotal, "HTTP requests by method and status")
	mc.Describe(HTTPRequestDuration, "HTTP request latency in seconds")
	mc.Describe(ClassificationsTotal, "Classification results by model and outcome")
	mc.Describe(ClassifyDuration, "Classification latency in seconds")
	mc.Describe(TrainingRunsTotal, "Training runs triggered over HTTP by result")
	mc.Describe(WebSocketConnections, "Open websocket connections")
	return &ServiceMetrics{MetricsCollector: mc}
}

// RecordRequest 记录一次HTTP请求
func (sm *ServiceMetrics) RecordRequest(method string, status int, d time.Duration) {
	sm.IncrCounter(HTTPRequestsTotal, 1, map[string]string{"method": method, "status": strconv.Itoa(status)})
	sm.RecordHistogram(HTTPRequestDuration, d.Seconds(), map[string]string{"method": method}, DefaultLatencyBuckets)
}

// RecordClassification 记录一次分类结果
func (sm *ServiceMetrics) RecordClassification(model, outcome string, d time.Duration) {
	sm.IncrCounter(ClassificationsTotal, 1, map[string]string{"model": model, "outcome": outcome})
	sm.RecordHistogram(ClassifyDuration, d.Seconds(), map[string]string{"model": model}, DefaultLatencyBuckets)
}

// RecordTraining 记录一次训练
func (sm *ServiceMetrics) RecordTraining(model string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	sm.IncrCounter(TrainingRunsTotal, 1, map[string]string{"model": model, "result": result})
}

// SetConnections 设置当前websocket连接数
func (sm *ServiceMetrics) SetConnections(n int) {
	sm.SetGauge(WebSocketConnections, float64(n), nil)
}

// GetServiceStats 进程统计加上分类汇总
func (sm *ServiceMetrics) GetServiceStats() map[string]interface{} {
	stats := sm.GetSystemStats()
	classifications := map[string]float64{}
	if series, err := sm.GetMetric(ClassificationsTotal); err == nil {
		for _, m := range series {
			classifications[m.Labels["outcome"]] += m.Value
		}
	}
	stats["classifications"] = classifications
	stats["websocket_connections"] = sm.Value(WebSocketConnections, nil)
	return stats
}
