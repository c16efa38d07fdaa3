package dto

type SubmitResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
}

type ResultResponse struct {
	Status         string `json:"status"`
	InferenceClass string `json:"inference_class,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type ListFailuresRequest struct {
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListFailuresResponse struct {
	Failures   []FailedJobDTO `json:"failures"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type FailedJobDTO struct {
	RequestID   string `json:"request_id"`
	RetryCount  int    `json:"retry_count"`
	Reason      string `json:"reason"`
	PayloadSize int    `json:"payload_size"`
	ContentType string `json:"content_type"`
	FailedAt    string `json:"failed_at"`
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
