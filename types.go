package alloy

import "fmt"

// --- Conversation model ---

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType identifies the kind of a ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockThinking   BlockType = "thinking"
	BlockImage      BlockType = "image"
	BlockAudio      BlockType = "audio"
	BlockVideo      BlockType = "video"
	BlockDocument   BlockType = "document"
)

// ContentBlock is one element of a message body. Type selects which fields
// are meaningful; unused fields stay zero and are omitted from JSON.
//
// Thinking blocks are opaque: Thinking and Signature must be re-submitted
// to the provider verbatim on later turns.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// image / audio / video / document
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"` // base64 payload for inline media
	URI      string `json:"uri,omitempty"`  // document reference
}

// Message is one entry in a conversation. Blocks carries the structured
// body; a plain-text message has a single text block.
//
// Invariants: tool_use blocks appear only in assistant messages,
// tool_result blocks only in user messages, and every tool_result's
// ToolUseID references a tool_use issued earlier in the conversation.
type Message struct {
	Role   Role           `json:"role"`
	Blocks []ContentBlock `json:"content"`
}

// Text returns the concatenated text blocks of the message.
func (m Message) Text() string {
	var out string
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the tool_use blocks of the message, in declared order.
func (m Message) ToolUses() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// chars returns the character count of all block payloads, used by the
// token estimator.
func (m Message) chars() int {
	var n int
	for _, b := range m.Blocks {
		n += len(b.Text) + len(b.Content) + len(b.Thinking) + len(b.Data)
		if b.Type == BlockToolUse {
			n += len(b.Name)
			for k, v := range b.Input {
				n += len(k) + len(fmt.Sprint(v))
			}
		}
	}
	return n
}

// --- Message constructors ---

func UserMessage(text string) Message {
	return Message{Role: RoleUser, Blocks: []ContentBlock{{Type: BlockText, Text: text}}}
}

func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Blocks: []ContentBlock{{Type: BlockText, Text: text}}}
}

// ToolResultMessage builds the user message carrying tool results for one
// assistant tool_use turn.
func ToolResultMessage(results ...ContentBlock) Message {
	return Message{Role: RoleUser, Blocks: results}
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool_use content block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool_result content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// --- Usage ---

// Usage accumulates token and cost counters across provider calls.
// All fields are non-negative; Merge sums field-wise.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	EstimatedCostCents       int `json:"estimated_cost_cents,omitempty"`
}

// Merge returns the field-wise sum of u and other.
func (u Usage) Merge(other Usage) Usage {
	return Usage{
		InputTokens:              u.InputTokens + other.InputTokens,
		OutputTokens:             u.OutputTokens + other.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens + other.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens + other.CacheReadInputTokens,
		EstimatedCostCents:       u.EstimatedCostCents + other.EstimatedCostCents,
	}
}

// --- Status ---

// Status is the agent lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusMaxTurns  Status = "max_turns"
	StatusError     Status = "error"
	StatusHalted    Status = "halted"
)

// Terminal reports whether the status ends a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusMaxTurns, StatusError, StatusHalted:
		return true
	}
	return false
}

// --- Session export ---

// Session is an exported snapshot of an agent's conversation. The ID comes
// from the "session_id" context entry when set, otherwise the stable agent id.
type Session struct {
	ID        string            `json:"id"`
	Messages  []Message         `json:"messages"`
	Usage     Usage             `json:"usage"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt int64             `json:"created_at"`
	UpdatedAt int64             `json:"updated_at"`
}

// --- Tool definitions (wire shape shared with providers) ---

// ToolDefinition describes a tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"` // JSON Schema
}

// --- Turn results ---

// StopReason tells the turn loop why the provider stopped.
type StopReason string

const (
	StopToolUse StopReason = "tool_use"
	StopEndTurn StopReason = "end_turn"
)

// Result is the outcome of a run: the final assistant text, the full
// conversation, usage totals, and the terminal status. RequestID is set for
// asynchronous runs delivered on the outbox.
type Result struct {
	RequestID string         `json:"request_id,omitempty"`
	Text      string         `json:"text"`
	Messages  []Message      `json:"messages"`
	Usage     Usage          `json:"usage"`
	ToolCalls []ContentBlock `json:"tool_calls,omitempty"`
	Status    Status         `json:"status"`
	Turns     int            `json:"turns"`
	Error     string         `json:"error,omitempty"`
}
