package storage

// Target statuses as tracked in the database. The database is bookkeeping
// for operators only: verification authority always lives in the on-disk
// artifacts, never in these rows.
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusVerified    = "verified"
	StatusFailed      = "failed"
)

// TargetRecord represents the tracked state of one catalog page target.
type TargetRecord struct {
	PageURL     string `json:"page_url"`
	MediaID     string `json:"media_id"`
	FileName    string `json:"file_name"`
	ExpectedCRC string `json:"expected_crc"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"last_error,omitempty"`
	VerifiedAt  string `json:"verified_at,omitempty"`
	UpdatedAt   string `json:"updated_at"`
}

type TargetReadRepository interface {
	GetTargets() ([]TargetRecord, error)
}

type TargetWriteRepository interface {
	Track(rec TargetRecord) error
	UpdateStatus(pageURL, status, lastError string) error
	MarkVerified(pageURL string) error
}

type TargetRepository interface {
	TargetReadRepository
	TargetWriteRepository
}
