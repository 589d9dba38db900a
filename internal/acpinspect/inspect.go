package acpinspect

import (
	"encoding/json"
	"fmt"
	"strings"

	acp "github.com/coder/acp-go-sdk"
)

// AnyMessage matches the ACP SDK's JSON-RPC envelope. Params/Result/Error
// stay raw so unknown and experimental methods still decode.
type AnyMessage struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   json.RawMessage  `json:"error,omitempty"`
}

// Summary is the chunk a transcript source yields for one message.
type Summary struct {
	SessionID string
	Method    string
	IsNotify  bool
	IsReply   bool
	UserText  string
	AgentText string
	Raw       json.RawMessage
}

// String renders the summary as a single line.
func (s Summary) String() string {
	var b strings.Builder
	switch {
	case s.IsReply:
		b.WriteString("reply")
	case s.Method != "":
		b.WriteString(s.Method)
	default:
		b.WriteString("?")
	}
	if s.SessionID != "" {
		fmt.Fprintf(&b, " [%s]", s.SessionID)
	}
	if s.UserText != "" {
		fmt.Fprintf(&b, " user=%q", s.UserText)
	}
	if s.AgentText != "" {
		fmt.Fprintf(&b, " agent=%q", s.AgentText)
	}
	return b.String()
}

// Decode parses one JSON-RPC line and summarizes it.
func Decode(line []byte) (Summary, error) {
	var msg AnyMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return Summary{}, fmt.Errorf("decode acp message: %w", err)
	}
	s := Extract(msg)
	s.Raw = append(json.RawMessage(nil), line...)
	return s, nil
}

// Extract best-effort parses known ACP methods and leaves everything else
// empty. Responses carry no method, so only IsReply is set for them.
func Extract(msg AnyMessage) Summary {
	if msg.Method == "" {
		return Summary{IsReply: msg.ID != nil}
	}
	sid, userText, agentText := extractFromParams(msg.Method, msg.Params)
	return Summary{
		SessionID: sid,
		Method:    msg.Method,
		IsNotify:  msg.ID == nil,
		UserText:  userText,
		AgentText: agentText,
	}
}

func extractFromParams(method string, params json.RawMessage) (string, string, string) {
	switch method {
	case acp.AgentMethodSessionPrompt:
		var p acp.PromptRequest
		if json.Unmarshal(params, &p) != nil {
			return "", "", ""
		}
		return string(p.SessionId), joinTextFromContentBlocks(p.Prompt), ""

	case acp.ClientMethodSessionUpdate:
		var n acp.SessionNotification
		if json.Unmarshal(params, &n) != nil {
			return "", "", ""
		}
		switch {
		case n.Update.AgentMessageChunk != nil:
			return string(n.SessionId), "", textFromContentBlock(n.Update.AgentMessageChunk.Content)
		case n.Update.UserMessageChunk != nil:
			return string(n.SessionId), textFromContentBlock(n.Update.UserMessageChunk.Content), ""
		case n.Update.AgentThoughtChunk != nil:
			return string(n.SessionId), "", textFromContentBlock(n.Update.AgentThoughtChunk.Content)
		case n.Update.ToolCall != nil:
			return string(n.SessionId), "", joinTextFromToolCallContent(n.Update.ToolCall.Content)
		case n.Update.ToolCallUpdate != nil:
			return string(n.SessionId), "", joinTextFromToolCallContent(n.Update.ToolCallUpdate.Content)
		default:
			return string(n.SessionId), "", ""
		}

	default:
		var withSession struct {
			SessionID string `json:"sessionId"`
		}
		if json.Unmarshal(params, &withSession) == nil {
			return withSession.SessionID, "", ""
		}
		return "", "", ""
	}
}

func joinTextFromContentBlocks(blocks []acp.ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		if t := textFromContentBlock(b); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

func joinTextFromToolCallContent(items []acp.ToolCallContent) string {
	var parts []string
	for _, it := range items {
		if it.Content == nil {
			continue
		}
		if t := textFromContentBlock(it.Content.Content); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

func textFromContentBlock(block acp.ContentBlock) string {
	if block.Text == nil {
		return ""
	}
	return block.Text.Text
}
