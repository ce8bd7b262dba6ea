package dto

type SendMessageRequest struct {
	Message        string `json:"message" binding:"required"`
	SourceChannel  string `json:"source_channel"`
	SourceUserID   string `json:"source_user_id"`
	SessionID      string `json:"session_id"`
	Category       string `json:"category"`
	CachedResponse string `json:"cached_response"`
}

type SendMessageResponse struct {
	Tier             string `json:"tier"`
	Response         string `json:"response"`
	HasMemoryContext bool   `json:"has_memory_context"`
	DeviceName       string `json:"device_name,omitempty"`
	Queued           bool   `json:"queued"`
	QueueDepth       int    `json:"queue_depth,omitempty"`
	ProcessingMs     int64  `json:"processing_ms"`
}
