package gemini

import (
	"encoding/json"
	"fmt"

	alloy "github.com/alloyhq/alloy"
)

// --- wire types (generateContent API) ---

type request struct {
	Contents          []content       `json:"contents"`
	SystemInstruction *content        `json:"systemInstruction,omitempty"`
	Tools             []toolDecls     `json:"tools,omitempty"`
	GenerationConfig  *generationConf `json:"generationConfig,omitempty"`
}

type generationConf struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type toolDecls struct {
	FunctionDeclarations []functionDecl `json:"functionDeclarations"`
}

type functionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
	InlineData       *inlineData       `json:"inlineData,omitempty"`
}

type functionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type functionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type response struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type usageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount"`
}

// --- conversion ---

// encodeContents translates normalized messages to Gemini contents. The
// wire format has no tool-call ids, so tool_result blocks resolve their
// function name by scanning earlier tool_use blocks; decode synthesizes
// stable ids per call.
func encodeContents(messages []alloy.Message) []content {
	names := toolNamesByID(messages)

	out := make([]content, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == alloy.RoleAssistant {
			role = "model"
		}
		c := content{Role: role}
		for _, b := range m.Blocks {
			switch b.Type {
			case alloy.BlockText:
				c.Parts = append(c.Parts, part{Text: b.Text})
			case alloy.BlockThinking:
				// No reasoning slot on this wire format; thinking text is
				// not re-sent (it never influences later Gemini turns).
			case alloy.BlockToolUse:
				args, err := json.Marshal(b.Input)
				if err != nil {
					args = []byte("{}")
				}
				c.Parts = append(c.Parts, part{FunctionCall: &functionCall{Name: b.Name, Args: args}})
			case alloy.BlockToolResult:
				name := names[b.ToolUseID]
				resp := map[string]any{"content": b.Content}
				if b.IsError {
					resp["error"] = true
				}
				c.Parts = append(c.Parts, part{FunctionResponse: &functionResponse{Name: name, Response: resp}})
			case alloy.BlockImage, alloy.BlockAudio, alloy.BlockVideo:
				c.Parts = append(c.Parts, part{InlineData: &inlineData{MimeType: b.MimeType, Data: b.Data}})
			default:
				c.Parts = append(c.Parts, part{Text: fmt.Sprintf("[unsupported %s content: %s]", b.Type, b.MimeType)})
			}
		}
		if len(c.Parts) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// toolNamesByID maps tool_use ids to function names across a conversation.
func toolNamesByID(messages []alloy.Message) map[string]string {
	names := make(map[string]string)
	for _, m := range messages {
		for _, b := range m.Blocks {
			if b.Type == alloy.BlockToolUse {
				names[b.ID] = b.Name
			}
		}
	}
	return names
}

// decodeParts converts candidate parts to content blocks. callSeq numbers
// the synthesized tool_use ids (call_<name>_<n>); callers start it at zero
// for each response, so the ids are unique within one response only.
func decodeParts(parts []part, callSeq *int) ([]alloy.ContentBlock, error) {
	var blocks []alloy.ContentBlock
	for _, p := range parts {
		switch {
		case p.FunctionCall != nil:
			input := map[string]any{}
			if len(p.FunctionCall.Args) > 0 {
				if err := json.Unmarshal(p.FunctionCall.Args, &input); err != nil {
					return nil, &alloy.ProviderError{
						Provider: "gemini",
						Message:  "malformed tool arguments for " + p.FunctionCall.Name + ": " + err.Error(),
					}
				}
			}
			*callSeq++
			blocks = append(blocks, alloy.ContentBlock{
				Type:  alloy.BlockToolUse,
				ID:    fmt.Sprintf("call_%s_%d", p.FunctionCall.Name, *callSeq),
				Name:  p.FunctionCall.Name,
				Input: input,
			})
		case p.Text != "":
			blocks = append(blocks, alloy.ContentBlock{Type: alloy.BlockText, Text: p.Text})
		}
	}
	return blocks, nil
}

func encodeTools(tools []alloy.ToolDefinition) []toolDecls {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]functionDecl, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, functionDecl{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}
	return []toolDecls{{FunctionDeclarations: decls}}
}

func decodeUsage(u *usageMetadata) alloy.Usage {
	if u == nil {
		return alloy.Usage{}
	}
	return alloy.Usage{
		InputTokens:          u.PromptTokenCount,
		OutputTokens:         u.CandidatesTokenCount,
		CacheReadInputTokens: u.CachedContentTokenCount,
	}
}
