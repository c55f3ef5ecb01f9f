package models

// ScanResponse is the response for POST /api/v1/scan.
type ScanResponse struct {
	// Success indicates whether the scan completed without errors.
	// A scan that did not find every category is still successful.
	Success bool `json:"success"`

	// CaseID echoes the scanned case.
	CaseID string `json:"case_id"`

	// Complete is true when every category was found.
	Complete bool `json:"complete"`

	// Artifacts lists the rendered documents in category priority order.
	Artifacts []Artifact `json:"artifacts"`

	// Missing lists the category names without a matching document.
	Missing []string `json:"missing"`

	// LinksTotal is the number of candidate links for the case.
	LinksTotal int `json:"links_total"`

	// LinksFetched is how many of them were opened before the scan stopped.
	LinksFetched int `json:"links_fetched"`

	// Timing provides duration breakdowns for the operation.
	Timing TimingInfo `json:"timing"`

	// CacheStatus indicates whether the response was served from cache.
	// Values: "hit", "miss", or empty (caching not requested).
	CacheStatus string `json:"cache_status,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// Artifact is one rendered PDF.
type Artifact struct {
	Category  string `json:"category"`
	Path      string `json:"path"`
	SourceURL string `json:"source_url"`

	// LinkIndex is the 1-based position of the source link in scan order.
	LinkIndex int `json:"link_index"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// DiscoveryMs is the time spent reading the case's document listing.
	DiscoveryMs int64 `json:"discovery_ms"`

	// ScanMs is the time spent opening, classifying and rendering documents.
	ScanMs int64 `json:"scan_ms"`
}

// CaseArtifactsResponse is the response for GET /api/v1/cases/:id.
type CaseArtifactsResponse struct {
	CaseID    string       `json:"case_id"`
	Artifacts []Artifact   `json:"artifacts"`
	Error     *ErrorDetail `json:"error,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string    `json:"status"` // "healthy" or "degraded"
	Uptime    string    `json:"uptime"`
	PoolStats PoolStats `json:"pool_stats"`
	Version   string    `json:"version"`
}

// PoolStats reports the state of the browser session pool.
type PoolStats struct {
	MaxSessions    int `json:"max_sessions"`
	ActiveSessions int `json:"active_sessions"`
}
