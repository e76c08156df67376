package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Collector tracks HTTP and completion pipeline counters for the /metrics
// endpoint. It satisfies completion.Recorder.
type Collector struct {
	mu sync.RWMutex

	// HTTP
	totalRequests      map[string]int64 // by endpoint
	totalRequestsDur   map[string]int64 // total duration in ms
	requestErrors      map[string]int64 // by endpoint
	requestsInProgress map[string]int64

	rateLimitHits  int64
	rateLimitByKey map[string]int64 // by user

	// Completion pipeline
	promptsByModel   map[string]int64
	completedByModel map[string]int64
	streamDurByModel map[string]int64 // total ms
	inferenceErrors  map[string]int64 // by surfaced status code
	taskFailures     map[string]int64 // by task name
	deltasFlushed    int64
	sseConsumers     int64

	startTime time.Time
	now       func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		totalRequests:      make(map[string]int64),
		totalRequestsDur:   make(map[string]int64),
		requestErrors:      make(map[string]int64),
		requestsInProgress: make(map[string]int64),
		rateLimitByKey:     make(map[string]int64),
		promptsByModel:     make(map[string]int64),
		completedByModel:   make(map[string]int64),
		streamDurByModel:   make(map[string]int64),
		inferenceErrors:    make(map[string]int64),
		taskFailures:       make(map[string]int64),
		startTime:          time.Now(),
		now:                time.Now,
	}
}

// RecordRequest records a finished request to an endpoint.
func (c *Collector) RecordRequest(endpoint string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests[endpoint]++
	c.totalRequestsDur[endpoint] += duration.Milliseconds()
}

// RecordError records an error response for an endpoint.
func (c *Collector) RecordError(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestErrors[endpoint]++
}

// RecordRequestStart increments in-progress requests.
func (c *Collector) RecordRequestStart(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestsInProgress[endpoint]++
}

// RecordRequestEnd decrements in-progress requests.
func (c *Collector) RecordRequestEnd(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestsInProgress[endpoint]--
}

// RecordRateLimitHit records a rate limit rejection.
func (c *Collector) RecordRateLimitHit(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimitHits++
	c.rateLimitByKey[key]++
}

// SSEConsumerStarted and SSEConsumerDone bracket an attached stream consumer.
func (c *Collector) SSEConsumerStarted() {
	c.mu.Lock()
	c.sseConsumers++
	c.mu.Unlock()
}

func (c *Collector) SSEConsumerDone() {
	c.mu.Lock()
	c.sseConsumers--
	c.mu.Unlock()
}

// PromptAccepted records a prompt whose stream was registered.
func (c *Collector) PromptAccepted(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.promptsByModel[model]++
}

// StreamCompleted records a stream that ended with a Completed event.
func (c *Collector) StreamCompleted(model string, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completedByModel[model]++
	c.streamDurByModel[model] += elapsed.Milliseconds()
}

// InferenceFailed records a stream that ended with an InferenceError.
func (c *Collector) InferenceFailed(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inferenceErrors[strconv.Itoa(code)]++
}

// TaskFailed records a failed side task or persistence step.
func (c *Collector) TaskFailed(task string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taskFailures[task]++
}

// DeltaFlushed records one coalesced content delta sent to a stream.
func (c *Collector) DeltaFlushed() {
	c.mu.Lock()
	c.deltasFlushed++
	c.mu.Unlock()
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Uptime             int64
	TotalRequests      map[string]int64
	TotalRequestsDur   map[string]int64
	RequestErrors      map[string]int64
	RequestsInProgress map[string]int64
	RateLimitHits      int64
	RateLimitByKey     map[string]int64
	PromptsByModel     map[string]int64
	CompletedByModel   map[string]int64
	StreamDurByModel   map[string]int64
	InferenceErrors    map[string]int64
	TaskFailures       map[string]int64
	DeltasFlushed      int64
	SSEConsumers       int64
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:             int64(c.now().Sub(c.startTime).Seconds()),
		TotalRequests:      copyMap(c.totalRequests),
		TotalRequestsDur:   copyMap(c.totalRequestsDur),
		RequestErrors:      copyMap(c.requestErrors),
		RequestsInProgress: copyMap(c.requestsInProgress),
		RateLimitHits:      c.rateLimitHits,
		RateLimitByKey:     copyMap(c.rateLimitByKey),
		PromptsByModel:     copyMap(c.promptsByModel),
		CompletedByModel:   copyMap(c.completedByModel),
		StreamDurByModel:   copyMap(c.streamDurByModel),
		InferenceErrors:    copyMap(c.inferenceErrors),
		TaskFailures:       copyMap(c.taskFailures),
		DeltasFlushed:      c.deltasFlushed,
		SSEConsumers:       c.sseConsumers,
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
