package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
)

const defaultReportPrefix = "reports"

// ReportWriter stores JSON reports in a Cloud Storage bucket.
type ReportWriter struct {
	client *gcs.Client
	bucket string
	prefix string
}

// ReportWriterOption customises the writer.
type ReportWriterOption func(*ReportWriter)

// WithPrefix overrides the object prefix (defaults to "reports").
func WithPrefix(prefix string) ReportWriterOption {
	return func(w *ReportWriter) {
		w.prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	}
}

// NewReportWriter constructs a ReportWriter for bucket.
func NewReportWriter(client *gcs.Client, bucket string, opts ...ReportWriterOption) (*ReportWriter, error) {
	if client == nil {
		return nil, errors.New("storage report writer: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage report writer: bucket is required")
	}
	w := &ReportWriter{client: client, bucket: bucket, prefix: defaultReportPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// WriteJSON encodes payload and uploads it under the configured prefix,
// returning the gs:// location of the object.
func (w *ReportWriter) WriteJSON(ctx context.Context, name string, payload any) (string, error) {
	if w == nil || w.client == nil {
		return "", errors.New("storage report writer: client is not initialised")
	}
	object, err := ReportObjectPath(w.prefix, name)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("storage report writer: marshal %s: %w", name, err)
	}

	writer := w.client.Bucket(w.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.CacheControl = "no-store"
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("storage report writer: write %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("storage report writer: finalize %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", w.bucket, object), nil
}

// ReportObjectPath joins prefix and a validated file name.
func ReportObjectPath(prefix, name string) (string, error) {
	fileName, err := validateFileName(name)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(fileName, ".json") {
		return "", fmt.Errorf("storage: report %q must be a .json file", fileName)
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if strings.Contains(prefix, "..") {
		return "", fmt.Errorf("storage: prefix contains invalid traversal sequence")
	}
	if prefix == "" {
		return fileName, nil
	}
	return path.Join(prefix, fileName), nil
}

func validateFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: fileName is required")
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: fileName contains invalid path characters")
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: fileName contains invalid traversal sequence")
	}
	return value, nil
}
