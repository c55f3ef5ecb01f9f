package models

// BatchRequest is the payload for POST /api/v1/batch/scan.
type BatchRequest struct {
	// CaseIDs is the list of cases to scan. Required.
	CaseIDs []string `json:"case_ids" binding:"required,min=1,max=50"`

	// Options contains shared scan options applied to every case.
	Options BatchOptions `json:"options"`

	// WebhookURL receives a "batch.completed" event when the job finishes.
	WebhookURL string `json:"webhook_url,omitempty" binding:"omitempty,url"`

	// WebhookSecret signs the webhook body (HMAC-SHA256).
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// BatchOptions are the shared scan settings applied to every case in a batch.
type BatchOptions struct {
	Categories []CategoryRule `json:"categories,omitempty" binding:"omitempty,dive"`
	OutputDir  string         `json:"output_dir,omitempty"` // relative to the artifact directory
	FetchMode  string         `json:"fetch_mode,omitempty" binding:"omitempty,oneof=browser http auto"`
	Timeout    int            `json:"timeout,omitempty" binding:"omitempty,min=1,max=1800"`
}

// BatchResponse is the immediate response for POST /api/v1/batch/scan.
type BatchResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Total  int    `json:"total"`
}

// BatchStatusResponse is the response for GET /api/v1/batch/:id.
type BatchStatusResponse struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Completed int             `json:"completed"`
	Total     int             `json:"total"`
	Results   []*ScanResponse `json:"results,omitempty"`
}

// BatchJob tracks an in-progress batch scan.
type BatchJob struct {
	ID        string
	Status    string // "processing", "completed", "failed", "partial"
	Total     int
	Completed int
	Results   []*ScanResponse
	CreatedAt int64 // unix timestamp
}
