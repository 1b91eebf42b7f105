package store

const (
	RoleUser  = "user"
	RoleModel = "model"
)

const (
	LoginSuccess = "success"
	LoginFailure = "failure"
)

// UsageStats is the token accounting reported by the model for a single
// exchange. JSON field names match what the Gemini API reports so stored
// records can be aggregated without translation.
type UsageStats struct {
	PromptTokenCount        int32 `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount    int32 `json:"candidatesTokenCount,omitempty"`
	CachedContentTokenCount int32 `json:"cachedContentTokenCount,omitempty"`
	ThoughtsTokenCount      int32 `json:"thoughtsTokenCount,omitempty"`
	ToolUsePromptTokenCount int32 `json:"toolUsePromptTokenCount,omitempty"`
	TotalTokenCount         int32 `json:"totalTokenCount,omitempty"`
}

// Add accumulates counts from another record, for summing usage across the
// turns of one tool-call exchange.
func (u *UsageStats) Add(other *UsageStats) {
	if other == nil {
		return
	}
	u.PromptTokenCount += other.PromptTokenCount
	u.CandidatesTokenCount += other.CandidatesTokenCount
	u.CachedContentTokenCount += other.CachedContentTokenCount
	u.ThoughtsTokenCount += other.ThoughtsTokenCount
	u.ToolUsePromptTokenCount += other.ToolUsePromptTokenCount
	u.TotalTokenCount += other.TotalTokenCount
}

type ChatMessage struct {
	ID        string      `json:"id"` // UUID
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	ImagePath *string     `json:"image_path,omitempty"` // filename in the media store, never raw bytes
	Usage     *UsageStats `json:"usage,omitempty"`
	CreatedAt int64       `json:"created_at"` // epoch millis
}

type Vocabulary struct {
	ID           int64             `json:"id"`
	Original     string            `json:"original"` // dictionary form, natural key
	Reading      string            `json:"reading"`
	Meaning      string            `json:"meaning"`
	Example      string            `json:"example"`
	PartOfSpeech string            `json:"type"`
	VerbCategory string            `json:"verb_category,omitempty"`
	Conjugations map[string]string `json:"conjugations,omitempty"`
	Starred      bool              `json:"starred"`
	Learned      bool              `json:"learned"`
	CreatedAt    int64             `json:"created_at"`
	UpdatedAt    int64             `json:"updated_at"`
}

type Grammar struct {
	ID          int64  `json:"id"`
	Grammar     string `json:"grammar"` // natural key
	Explanation string `json:"explanation"`
	Structure   string `json:"structure"`
	Level       string `json:"level,omitempty"`
	Example     string `json:"example"`
	Starred     bool   `json:"starred"`
	Learned     bool   `json:"learned"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

type LoginLog struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	IP        string `json:"ip"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// ListQuery describes pagination, filtering and ordering for the vocabulary
// and grammar list operations.
type ListQuery struct {
	Page   int
	Limit  int
	Offset int    // -1 derives the offset from Page and Limit
	SortBy string // "created" or "updated"
	Order  string // "asc" or "desc"
	Filter string // "all", "starred" or "unstarred"
}

// Normalize fills in the defaults the API layer leaves blank.
func (q *ListQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = (q.Page - 1) * q.Limit
	}
	if q.SortBy != "created" {
		q.SortBy = "updated"
	}
	if q.Order != "asc" {
		q.Order = "desc"
	}
	switch q.Filter {
	case "starred", "unstarred":
	default:
		q.Filter = "all"
	}
}
