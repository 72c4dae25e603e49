package provider

import "context"

// Message 一条对话消息（role: system/user/assistant）。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage 补全接口返回的 token 统计。
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatProvider 聊天补全提供方。
type ChatProvider interface {
	ID() string
	Complete(ctx context.Context, system string, messages []Message) (string, Usage, error)
}
