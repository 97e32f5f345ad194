package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	batchesSubmittedTotal         atomic.Uint64
	batchesCompletedTotal         atomic.Uint64
	batchesCancelledTotal         atomic.Uint64
	batchesCredentialsFailedTotal atomic.Uint64
	filesCompletedTotal           atomic.Uint64
	filesFailedTotal              atomic.Uint64
	adapterRetriesTotal           atomic.Uint64
	checkpointLookupErrorsTotal   atomic.Uint64
	workerBatchesReceivedTotal    atomic.Uint64
	workerMessagesDroppedTotal    atomic.Uint64

	fileDuration = newHistogram([]float64{500, 1000, 2500, 5000, 10000, 30000, 60000, 120000, 300000})
)

func IncBatchesSubmitted()         { batchesSubmittedTotal.Add(1) }
func IncBatchesCompleted()         { batchesCompletedTotal.Add(1) }
func IncBatchesCancelled()         { batchesCancelledTotal.Add(1) }
func IncBatchesCredentialsFailed() { batchesCredentialsFailedTotal.Add(1) }
func IncFilesCompleted()           { filesCompletedTotal.Add(1) }
func IncFilesFailed()              { filesFailedTotal.Add(1) }
func IncAdapterRetries()           { adapterRetriesTotal.Add(1) }
func IncCheckpointLookupErrors()   { checkpointLookupErrorsTotal.Add(1) }
func IncWorkerBatchesReceived()    { workerBatchesReceivedTotal.Add(1) }
func IncWorkerMessagesDropped()    { workerMessagesDroppedTotal.Add(1) }

// ObserveFileDurationMs records how long one file took to reach a terminal stage.
func ObserveFileDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	fileDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "ingest_batches_submitted_total", "Total batches submitted", batchesSubmittedTotal.Load())
	writeCounter(&buf, "ingest_batches_completed_total", "Total batches that processed every file", batchesCompletedTotal.Load())
	writeCounter(&buf, "ingest_batches_cancelled_total", "Total batches cancelled before finishing", batchesCancelledTotal.Load())
	writeCounter(&buf, "ingest_batches_credentials_failed_total", "Total batches aborted by the credential provider", batchesCredentialsFailedTotal.Load())
	writeCounter(&buf, "ingest_files_completed_total", "Total files completed", filesCompletedTotal.Load())
	writeCounter(&buf, "ingest_files_failed_total", "Total files failed", filesFailedTotal.Load())
	writeCounter(&buf, "ingest_adapter_retries_total", "Total adapter call retries", adapterRetriesTotal.Load())
	writeCounter(&buf, "ingest_checkpoint_lookup_errors_total", "Total soft-failed checkpoint lookups", checkpointLookupErrorsTotal.Load())
	writeCounter(&buf, "ingest_worker_batches_received_total", "Total batch messages received by the worker", workerBatchesReceivedTotal.Load())
	writeCounter(&buf, "ingest_worker_messages_dropped_total", "Total unrecoverable worker messages deleted", workerMessagesDroppedTotal.Load())
	writeHistogram(&buf, "ingest_file_duration_ms", "File processing duration in milliseconds", fileDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe counts value in the first bucket whose bound holds it.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
