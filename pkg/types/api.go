package types

// AnalyzeRequest is the payload of POST /api/v1/analyze.
type AnalyzeRequest struct {
	// Free-text clinical description. Must reach the configured minimum length.
	// example: For the last two months I barely sleep, nothing feels enjoyable anymore and I cry most evenings.
	Text string `json:"text" example:"For the last two months I barely sleep, nothing feels enjoyable anymore and I cry most evenings."`
	// Run the classifier. Defaults to true when omitted.
	// example: true
	AutoClassify *bool `json:"auto_classify,omitempty" example:"true"`
	// Condition to use when auto_classify is false. Must be a known label.
	// example: Depression
	Pathology string `json:"pathology,omitempty" example:"Depression"`
}

// ClassificationResponse is the classifier output, or the caller's label in manual mode.
type ClassificationResponse struct {
	// Detected or selected condition.
	// example: Depression
	Pathology string `json:"pathology" example:"Depression"`
	// Probability of the detected condition. Null in manual mode.
	// example: 0.87
	Confidence *float64 `json:"confidence" example:"0.87"`
	// Probability per label. Empty in manual mode.
	AllProbabilities map[string]float64 `json:"all_probabilities"`
}

// AnalyzeMetadata describes one pipeline run.
type AnalyzeMetadata struct {
	// Length of the submitted text in characters.
	// example: 312
	OriginalTextLength int `json:"original_text_length" example:"312"`
	// example: 148
	SummaryLength int `json:"summary_length" example:"148"`
	// example: 1204
	RecommendationLength int `json:"recommendation_length" example:"1204"`
	// Wall clock seconds spent in the pipeline.
	// example: 4.21
	ProcessingTime float64 `json:"processing_time" example:"4.21"`
	// example: cuda
	Device string `json:"device" example:"cuda"`
	// auto or manual.
	// example: auto
	Mode string `json:"mode" example:"auto"`
	// True when the recommendation is the fixed template.
	// example: false
	GeneratorFallback bool `json:"generator_fallback" example:"false"`
	// True when the top probability is below the confidence threshold.
	// example: false
	LowConfidence bool `json:"low_confidence,omitempty" example:"false"`
}

// AnalyzeResponse is returned by POST /api/v1/analyze.
type AnalyzeResponse struct {
	Classification ClassificationResponse `json:"classification"`
	// example: Patient reports two months of insomnia, anhedonia and daily low mood.
	Summary string `json:"summary" example:"Patient reports two months of insomnia, anhedonia and daily low mood."`
	// example: 1. Cognitive behavioural therapy ...
	Recommendation string          `json:"recommendation" example:"1. Cognitive behavioural therapy ..."`
	Metadata       AnalyzeMetadata `json:"metadata"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Request id echoed from X-Request-Id.
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is returned by GET /api/v1/health and GET /health.
type HealthResponse struct {
	// healthy or degraded.
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// example: true
	ModelsLoaded bool `json:"models_loaded" example:"true"`
}

// DeviceStatusResponse is returned by GET /api/v1/get_status.
type DeviceStatusResponse struct {
	// example: ok
	Status string `json:"status" example:"ok"`
	// example: cuda
	Device string `json:"device" example:"cuda"`
}

// ReadinessResponse is returned by the liveness and readiness probes.
type ReadinessResponse struct {
	// example: ready
	Status string `json:"status" example:"ready"`
	// example: true
	Ready bool `json:"ready" example:"true"`
}

// Label is one entry of the label map.
type Label struct {
	// example: 2
	ID int `json:"id" example:"2"`
	// example: Depression
	Name string `json:"name" example:"Depression"`
}

// LabelsResponse is returned by GET /api/v1/labels.
type LabelsResponse struct {
	Labels []Label `json:"labels"`
}

// TokenRequest is the payload of POST /api/v1/auth/token.
type TokenRequest struct {
	// example: clinician
	Username string `json:"username" example:"clinician"`
	// example: s3cret
	Password string `json:"password" example:"s3cret"`
}

// RefreshRequest is the payload of POST /api/v1/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse carries a freshly issued token pair.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// example: bearer
	TokenType string `json:"token_type" example:"bearer"`
	// Access token lifetime in seconds.
	// example: 1800
	ExpiresIn int64 `json:"expires_in" example:"1800"`
}

// MemoryStats is the Go heap view reported by /health/detailed.
type MemoryStats struct {
	AllocMB      float64 `json:"alloc_mb"`
	SysMB        float64 `json:"sys_mb"`
	HeapInuseMB  float64 `json:"heap_inuse_mb"`
	NumGC        uint32  `json:"num_gc"`
	NumGoroutine int     `json:"num_goroutine"`
}

// DetailedHealthResponse is returned by GET /health/detailed.
type DetailedHealthResponse struct {
	// healthy, degraded or unhealthy.
	Status        string          `json:"status"`
	Models        map[string]bool `json:"models"`
	Device        DeviceInfo      `json:"device"`
	Memory        MemoryStats     `json:"memory"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Version       string          `json:"version,omitempty"`
}

// DeviceInfo describes the compute device and host CPU.
type DeviceInfo struct {
	Device        string   `json:"device"`
	Accelerated   bool     `json:"accelerated"`
	CPUBrand      string   `json:"cpu_brand,omitempty"`
	PhysicalCores int      `json:"physical_cores"`
	LogicalCores  int      `json:"logical_cores"`
	CPUFeatures   []string `json:"cpu_features,omitempty"`
	OS            string   `json:"os"`
	Arch          string   `json:"arch"`
}
