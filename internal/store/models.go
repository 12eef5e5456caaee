package store

import "time"

// Prompt is the public projection of a prompts row. The secret_hash column is
// deliberately absent: list and detail reads never carry it, and the only way
// to reach the stored hash is GetPromptSecretHash.
type Prompt struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Role        string    `json:"role"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	Result      string    `json:"result,omitempty"`
	Tool        string    `json:"tool,omitempty"`
	Author      string    `json:"author"`
	Views       int       `json:"views"`
	Likes       int       `json:"likes"`
	CopyCount   int       `json:"copyCount"`
	Comments    []Comment `json:"comments"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Comment is the public projection of a comments row, secret-free like Prompt.
type Comment struct {
	ID        string    `json:"id"`
	PromptID  string    `json:"promptId"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewPrompt carries the fields a submission may set. SecretHash comes from the
// secret gate; counters always start at zero and are not part of the input.
type NewPrompt struct {
	Title       string
	Role        string
	Type        string
	Description string
	Content     string
	Result      string
	Tool        string
	Author      string
	SecretHash  string
}

// NewComment carries the fields a comment submission may set.
type NewComment struct {
	PromptID   string
	Author     string
	Content    string
	SecretHash string
}

// PromptUpdate holds the content fields a gated update may touch. Nil means
// "leave unchanged". Counters and the secret hash are intentionally not here.
type PromptUpdate struct {
	Title       *string
	Role        *string
	Type        *string
	Description *string
	Content     *string
	Result      *string
	Tool        *string
	Author      *string
}

// CounterField names one of the adjustable counters on a prompt.
type CounterField string

const (
	FieldViews     CounterField = "views"
	FieldLikes     CounterField = "likes"
	FieldCopyCount CounterField = "copy_count"
)

// ValidCounterField reports whether name maps to a known counter column.
func ValidCounterField(name string) (CounterField, bool) {
	switch name {
	case "views":
		return FieldViews, true
	case "likes":
		return FieldLikes, true
	case "copyCount", "copy_count":
		return FieldCopyCount, true
	}
	return "", false
}
