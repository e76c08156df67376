package metrics

import (
	"fmt"
	"sort"
	"strings"
)

const namespace = "chatd"

// FormatPrometheus formats metrics in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	writeGauge(&sb, "uptime_seconds", "Time since the server started", snap.Uptime)

	writeLabeled(&sb, "requests_total", "Total number of requests by endpoint", "counter", "endpoint", snap.TotalRequests, nil)
	writeLabeled(&sb, "request_errors_total", "Total number of request errors by endpoint", "counter", "endpoint", snap.RequestErrors, nil)
	writeLabeled(&sb, "requests_in_progress", "Current number of requests being processed", "gauge", "endpoint", snap.RequestsInProgress, func(v int64) bool { return v > 0 })
	writeLabeled(&sb, "request_duration_ms_total", "Total request duration in milliseconds", "counter", "endpoint", snap.TotalRequestsDur, nil)

	writeCounter(&sb, "rate_limit_hits_total", "Total number of rate limit rejections", snap.RateLimitHits)
	sb.WriteString("# HELP chatd_rate_limit_by_user_total Rate limit hits by user\n")
	sb.WriteString("# TYPE chatd_rate_limit_by_user_total counter\n")
	for _, key := range sortedKeys(snap.RateLimitByKey) {
		sb.WriteString(fmt.Sprintf("chatd_rate_limit_by_user_total{user=\"%s\"} %d\n", maskUserID(key), snap.RateLimitByKey[key]))
	}
	sb.WriteString("\n")

	writeLabeled(&sb, "prompts_total", "Prompts accepted by model", "counter", "model", snap.PromptsByModel, nil)
	writeLabeled(&sb, "streams_completed_total", "Streams that ended with Done by model", "counter", "model", snap.CompletedByModel, nil)
	writeLabeled(&sb, "stream_duration_ms_total", "Total streaming time in milliseconds by model", "counter", "model", snap.StreamDurByModel, nil)
	writeLabeled(&sb, "inference_errors_total", "Streams that ended with InferenceError by code", "counter", "code", snap.InferenceErrors, nil)
	writeLabeled(&sb, "task_failures_total", "Failed side tasks by task", "counter", "task", snap.TaskFailures, nil)
	writeCounter(&sb, "deltas_flushed_total", "Coalesced content deltas sent to streams", snap.DeltasFlushed)
	writeGauge(&sb, "sse_consumers", "Currently attached stream consumers", snap.SSEConsumers)

	return sb.String()
}

func writeCounter(sb *strings.Builder, name, help string, v int64) {
	writeScalar(sb, name, help, "counter", v)
}

func writeGauge(sb *strings.Builder, name, help string, v int64) {
	writeScalar(sb, name, help, "gauge", v)
}

func writeScalar(sb *strings.Builder, name, help, kind string, v int64) {
	fmt.Fprintf(sb, "# HELP %s_%s %s\n", namespace, name, help)
	fmt.Fprintf(sb, "# TYPE %s_%s %s\n", namespace, name, kind)
	fmt.Fprintf(sb, "%s_%s %d\n\n", namespace, name, v)
}

func writeLabeled(sb *strings.Builder, name, help, kind, label string, values map[string]int64, keep func(int64) bool) {
	fmt.Fprintf(sb, "# HELP %s_%s %s\n", namespace, name, help)
	fmt.Fprintf(sb, "# TYPE %s_%s %s\n", namespace, name, kind)
	for _, k := range sortedKeys(values) {
		v := values[k]
		if keep != nil && !keep(v) {
			continue
		}
		fmt.Fprintf(sb, "%s_%s{%s=\"%s\"} %d\n", namespace, name, label, k, v)
	}
	sb.WriteString("\n")
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func maskUserID(userID string) string {
	if len(userID) <= 4 {
		return "user_***"
	}
	// Show last 4 characters only
	return "user_***" + userID[len(userID)-4:]
}
