package models

import "time"

// Job statuses. Crawl and chat historically reported "queued"/"completed";
// those are accepted as aliases of pending/done when reading.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusDone       = "done"
	JobStatusFailed     = "failed"

	JobStatusQueued    = "queued"
	JobStatusCompleted = "completed"
)

// NormalizeJobStatus collapses the legacy aliases onto the canonical set.
func NormalizeJobStatus(status string) string {
	switch status {
	case JobStatusQueued:
		return JobStatusPending
	case JobStatusCompleted:
		return JobStatusDone
	default:
		return status
	}
}

// IsTerminalJobStatus reports whether a job will receive no further updates.
func IsTerminalJobStatus(status string) bool {
	s := NormalizeJobStatus(status)
	return s == JobStatusDone || s == JobStatusFailed
}

// Job is the durable status/progress record for one unit of ingestion work.
// It is created pending by the submission route, mutated only by the worker
// that owns it, and polled by the SSE bridge.
type Job struct {
	ID        string      `bson:"_id"`
	TenantID  string      `bson:"tenant_id"`
	Type      string      `bson:"type"`
	Status    string      `bson:"status"`
	Progress  int         `bson:"progress"`
	Error     string      `bson:"error,omitempty"`
	Metadata  JobMetadata `bson:"metadata"`
	CreatedAt time.Time   `bson:"created_at"`
	UpdatedAt time.Time   `bson:"updated_at"`
}

// JobMetadata is a closed union: exactly one provider-specific variant is set,
// matching the job type. Keeping the variants typed means every worker's
// reads and writes are checked at compile time.
type JobMetadata struct {
	Upload *UploadMetadata `bson:"upload,omitempty" json:"upload,omitempty"`
	Crawl  *CrawlMetadata  `bson:"crawl,omitempty" json:"crawl,omitempty"`
	GDoc   *GDocMetadata   `bson:"gdoc,omitempty" json:"gdoc,omitempty"`
	Notion *NotionMetadata `bson:"notion,omitempty" json:"notion,omitempty"`
	Probe  *ProbeMetadata  `bson:"probe,omitempty" json:"probe,omitempty"`
}

type UploadMetadata struct {
	OriginalName string `bson:"original_name" json:"original_name"`
	FilePath     string `bson:"file_path" json:"file_path"`
	FileSize     int64  `bson:"file_size,omitempty" json:"file_size,omitempty"`
	TextLength   int    `bson:"text_length,omitempty" json:"text_length,omitempty"`
	ChunksCount  int    `bson:"chunks_count,omitempty" json:"chunks_count,omitempty"`
	VectorsCount int    `bson:"vectors_count,omitempty" json:"vectors_count,omitempty"`
}

type CrawlMetadata struct {
	SeedURL        string `bson:"seed_url" json:"seed_url"`
	Host           string `bson:"host" json:"host"`
	DiscoveredURLs int    `bson:"discovered_urls,omitempty" json:"discovered_urls,omitempty"`
	ProcessedURLs  int    `bson:"processed_urls,omitempty" json:"processed_urls,omitempty"`
	SuccessfulURLs int    `bson:"successful_urls,omitempty" json:"successful_urls,omitempty"`
	Message        string `bson:"message,omitempty" json:"message,omitempty"`
}

type GDocMetadata struct {
	OriginalURL string `bson:"original_url" json:"original_url"`
	DocID       string `bson:"doc_id" json:"doc_id"`
	ExportURL   string `bson:"export_url" json:"export_url"`
	TextLength  int    `bson:"text_length,omitempty" json:"text_length,omitempty"`
}

type NotionMetadata struct {
	TotalPages     int    `bson:"total_pages,omitempty" json:"total_pages,omitempty"`
	ProcessedPages int    `bson:"processed_pages,omitempty" json:"processed_pages,omitempty"`
	FailedPages    int    `bson:"failed_pages,omitempty" json:"failed_pages,omitempty"`
	CurrentPage    string `bson:"current_page,omitempty" json:"current_page,omitempty"`
	Message        string `bson:"message,omitempty" json:"message,omitempty"`
}

// ProbeMetadata records where an ordering probe landed relative to its batch.
type ProbeMetadata struct {
	BatchID  string `bson:"batch_id" json:"batch_id"`
	Sequence int    `bson:"sequence" json:"sequence"`
	Observed int    `bson:"observed,omitempty" json:"observed,omitempty"`
}
