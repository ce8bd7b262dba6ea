package dto

const (
	CommandStatusDispatched        = "dispatched"
	CommandStatusBlocked           = "blocked"
	CommandStatusNeedsConfirmation = "needs_confirmation"
)

type ExecuteCommandRequest struct {
	Input     string `json:"input" binding:"required"`
	Confirmed bool   `json:"confirmed"`
}

type DeviceResultInfo struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Success    bool   `json:"success"`
	Response   string `json:"response,omitempty"`
	Error      string `json:"error,omitempty"`
}

type ExecuteCommandResponse struct {
	Status       string             `json:"status"`
	Risk         string             `json:"risk"`
	Explanation  string             `json:"explanation,omitempty"`
	Warnings     []string           `json:"warnings,omitempty"`
	Success      bool               `json:"success"`
	Results      []DeviceResultInfo `json:"results,omitempty"`
	SuccessCount int                `json:"success_count"`
	FailCount    int                `json:"fail_count"`
}
