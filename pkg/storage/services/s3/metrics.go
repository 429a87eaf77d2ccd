package s3

import (
	"io"
	"time"
)

// S3Metrics provides observability for S3 requests.
//
// This is optional: without it, metrics collection is skipped.
// pkg/metrics provides the Prometheus implementation.
type S3Metrics interface {
	// ObserveOperation records an S3 request with its duration and outcome.
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records bytes transferred by read and write requests.
	RecordBytes(operation string, bytes int64)

	// RecordMultipartUpload records a multipart upload lifecycle event:
	// "initiated", "completed" or "aborted".
	RecordMultipartUpload(status string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, int64)                     {}
func (noopMetrics) RecordMultipartUpload(string)                  {}

// metricsReadCloser counts the bytes read from a GetObject body.
type metricsReadCloser struct {
	io.ReadCloser
	metrics   S3Metrics
	operation string
	bytesRead int64
}

func (m *metricsReadCloser) Read(p []byte) (int, error) {
	n, err := m.ReadCloser.Read(p)
	if n > 0 {
		m.bytesRead += int64(n)
	}
	return n, err
}

func (m *metricsReadCloser) Close() error {
	err := m.ReadCloser.Close()
	// Record bytes read regardless of close error
	if m.bytesRead > 0 {
		m.metrics.RecordBytes(m.operation, m.bytesRead)
	}
	return err
}
