package eduapi

// HistoryEntry 是随请求发送的一条历史消息，只保留角色与内容。
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 对应 POST /ai/chat。
type ChatRequest struct {
	Message        string         `json:"message"`
	History        []HistoryEntry `json:"history"`
	SubjectContext string         `json:"subjectContext,omitempty"`
	TopicContext   string         `json:"topicContext,omitempty"`
	Mode           string         `json:"mode"`
}

// ChatResponse 是后端对一次辅导请求的回复。
type ChatResponse struct {
	Response      string   `json:"response"`
	Suggestions   []string `json:"suggestions,omitempty"`
	RelatedTopics []string `json:"relatedTopics,omitempty"`
}

// ExplainRequest 对应 POST /ai/explain。
type ExplainRequest struct {
	QuestionID         string `json:"questionId"`
	StudentAnswerIndex int    `json:"studentAnswerIndex"`
	Context            string `json:"context,omitempty"`
}

// Explanation 是对学生答案的讲解。
type Explanation struct {
	Explanation string   `json:"explanation"`
	KeyConcepts []string `json:"keyConcepts,omitempty"`
	Difficulty  string   `json:"difficulty,omitempty"`
}

// QuizRequest 对应 POST /ai/quiz。
type QuizRequest struct {
	Subject       string `json:"subject"`
	Topic         string `json:"topic,omitempty"`
	Difficulty    string `json:"difficulty"`
	QuestionCount int    `json:"questionCount"`
}

// QuizQuestion 是一道选择题。CorrectAnswer 为 Options 的下标。
type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
}

// QuizResponse 是生成的测验。
type QuizResponse struct {
	Questions []QuizQuestion `json:"questions"`
}

// Status 是 GET /ai/status 的结果，仅用于展示。
type Status struct {
	Available      bool `json:"available"`
	QuotaRemaining *int `json:"quotaRemaining,omitempty"`
}

// Profile 是 GET /users/me 的结果，是配额的权威来源。
// AIQuotaLimit 为 -1 表示不限量。
type Profile struct {
	ID           uint   `json:"id"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	AIQuotaLimit int    `json:"aiQuotaLimit"`
	AIQuotaUsed  int    `json:"aiQuotaUsed"`
}
