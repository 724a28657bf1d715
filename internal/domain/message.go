package domain

// Attachment is a file carried on a conversation message. It is owned by the
// message it is attached to and consumed at most once: a product file is
// stripped from the message right after parsing so large binary payloads are
// never re-sent to the model.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// ConversationMessage is one stored turn of a conversation. Immutable once
// appended; ordering is semantically significant (it is the model's context).
type ConversationMessage struct {
	Role        string       `json:"role"` // "user" | "assistant"
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Message is the wire-level shape sent to the model gateway, including the
// tool call/result roles the external event protocol never sees.
type Message struct {
	Role       string     `json:"role"` // system | user | assistant | tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}
