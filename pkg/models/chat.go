package models

// ChatRequest is the body of POST /agent/chat.
type ChatRequest struct {
	Message   string `json:"message" binding:"required"`
	Stream    bool   `json:"stream"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	ChatID    string `json:"chat_id"`
}

// ChatResponse is the terminal payload of one turn.
type ChatResponse struct {
	Response    string       `json:"response"`
	Status      string       `json:"status"`
	TaskType    TaskCode     `json:"task_type"`
	SessionID   string       `json:"session_id"`
	ChatID      string       `json:"chat_id"`
	ChatTitle   string       `json:"chat_title"`
	SourceFiles []SourceFile `json:"source_files,omitempty"`
	BillingInfo *BillingInfo `json:"billing_info,omitempty"`
	CreditInfo  *CreditInfo  `json:"credit_info,omitempty"`
}

// SourceFile describes one knowledge-base document backing an answer.
type SourceFile struct {
	FileName   string  `json:"file_name"`
	FileID     string  `json:"file_id,omitempty"`
	Similarity float64 `json:"similarity"`
	CanPreview bool    `json:"can_preview"`
}

// BillingInfo reports the usage counted during one turn.
type BillingInfo struct {
	LLMCalls   int     `json:"llm_calls"`
	RSHubTasks int     `json:"rshub_tasks"`
	TotalCost  int     `json:"total_cost"`
	DurationS  float64 `json:"duration_seconds"`
}

// CreditInfo reports the settlement outcome for one turn.
//
// In production mode RemainingCredits is -1 when the remote balance could
// not be determined. In local mode LocalMode is true and nothing is
// deducted.
type CreditInfo struct {
	LocalMode        bool `json:"local_mode,omitempty"`
	CreditDeducted   int  `json:"credit_deducted"`
	RemainingCredits int  `json:"remaining_credits"`
	DeductSuccess    bool `json:"deduct_success"`
}
