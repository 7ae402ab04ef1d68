package metergate

import "time"

// GenerateRequest is the body of a generation call.
// Either Prompt or Messages must be set; Image is base64 encoded.
type GenerateRequest struct {
	Model    string    `json:"model"`
	Prompt   string    `json:"prompt,omitempty"`
	Messages []Message `json:"messages,omitempty"`
	Image    string    `json:"image,omitempty"`
	MimeType string    `json:"mimeType,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// DispatchResult is what the fallback dispatcher returns on success.
type DispatchResult struct {
	Content      string
	FinishReason string
	Usage        Usage
	UsedModel    string
	Provider     ProviderKey
	Attempts     int
}

// GenerateResponse is returned by Gateway.Generate on success.
type GenerateResponse struct {
	Status           string           `json:"status"`
	ModelChosen      string           `json:"model_chosen"`
	ModelUsed        string           `json:"model_used"`
	InputTokens      int64            `json:"input_tokens"`
	OutputTokens     int64            `json:"output_tokens"`
	Cost             float64          `json:"cost"`
	UserBalanceAfter int64            `json:"user_balance_after"`
	Result           string           `json:"result"`
	Metadata         ResponseMetadata `json:"metadata"`
}

// ResponseMetadata carries routing details of a served request.
type ResponseMetadata struct {
	RequestID    string      `json:"request_id"`
	Provider     ProviderKey `json:"provider"`
	FinishReason string      `json:"finish_reason"`
	Attempts     int         `json:"attempts"`
	ChargedUnits int64       `json:"charged_units"`
}

// UsageRecord is appended to the usage log once per completed request.
type UsageRecord struct {
	ID             string
	UserID         string
	RequestedModel string
	UsedModel      string
	InputTokens    int64
	OutputTokens   int64
	CostUSD        float64
	ChargedUnits   int64
	CreatedAt      time.Time
}
