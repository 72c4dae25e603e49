package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

// 中文说明：
// 聊天补全请求/响应的独立留痕通道，便于离线排查组件标记的提取问题。
// 默认关闭；payload 仅在显式开启 dump 时写入。

var (
	llmMu          sync.Mutex
	llmLog         *log.Logger
	llmDumpPayload bool
)

func SetLLMWriter(w io.Writer) {
	llmMu.Lock()
	defer llmMu.Unlock()
	if w == nil {
		llmLog = nil
		return
	}
	llmLog = log.New(w, "", log.LstdFlags)
}

func EnableLLMPayloadDump(enabled bool) {
	llmMu.Lock()
	llmDumpPayload = enabled
	llmMu.Unlock()
}

type llmSection struct {
	Title string
	Body  string
}

func logLLM(kind, provider string, sections []llmSection) {
	llmMu.Lock()
	sink := llmLog
	llmMu.Unlock()
	if sink == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[LLM][" + kind + "]")
	if provider != "" {
		b.WriteString("[" + provider + "]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		title := strings.TrimSpace(sec.Title)
		if title == "" {
			title = "CONTENT"
		}
		b.WriteString("--- " + title + " ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	sink.Print(b.String())
}

func LogLLMRequest(provider, systemPrompt, userPrompt, payload string) {
	sections := []llmSection{
		{Title: "SYSTEM", Body: systemPrompt},
		{Title: "USER", Body: userPrompt},
	}
	llmMu.Lock()
	dump := llmDumpPayload
	llmMu.Unlock()
	if dump && strings.TrimSpace(payload) != "" {
		sections = append(sections, llmSection{Title: "PAYLOAD", Body: payload})
	}
	logLLM("request", provider, sections)
}

func LogLLMResponse(provider, raw string) {
	logLLM("response", provider, []llmSection{{Title: "RAW", Body: raw}})
}
