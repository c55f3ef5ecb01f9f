package models

// ScanRequest is the payload for POST /api/v1/scan.
type ScanRequest struct {
	// CaseID is the process number to scan. Required.
	CaseID string `json:"case_id" binding:"required"`

	// Links overrides link discovery. When empty, the candidate links are
	// read from the portal's listing page for CaseID.
	Links []string `json:"links,omitempty" binding:"omitempty,max=500,dive,url"`

	// Categories overrides the configured category rules, in priority order.
	Categories []CategoryRule `json:"categories,omitempty" binding:"omitempty,dive"`

	// OutputDir is a relative directory under the configured artifact
	// directory. Absolute paths and paths leaving it are rejected.
	OutputDir string `json:"output_dir,omitempty"`

	// FetchMode controls how page text is fetched.
	// "browser" (default): the scan's own browser session.
	// "http": plain HTTP with a browser TLS fingerprint, no JS.
	// "auto": race http and browser with staged escalation.
	FetchMode string `json:"fetch_mode,omitempty" binding:"omitempty,oneof=browser http auto"`

	// Timeout is the maximum duration in seconds for the whole scan.
	// Default: 300. Max: 1800.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1,max=1800"`

	// MaxAge, in milliseconds, allows serving a cached response younger
	// than this. Zero disables the cache.
	MaxAge int `json:"max_age,omitempty" binding:"omitempty,min=0"`
}

// CategoryRule is the wire form of a document category.
type CategoryRule struct {
	Name    string `json:"name" binding:"required"`
	Slug    string `json:"slug" binding:"required"`
	Keyword string `json:"keyword" binding:"required"`
}

// Defaults applies default values to unset fields.
func (r *ScanRequest) Defaults() {
	if r.Timeout == 0 {
		r.Timeout = 300
	}
	if r.FetchMode == "" {
		r.FetchMode = "browser"
	}
}
