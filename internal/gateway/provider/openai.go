package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"majorgainz/internal/logger"
)

// 中文说明：
// OpenAIChatClient：兼容 OpenAI / DeepSeek / Qwen 的聊天补全接口（/v1/chat/completions）。
// 前端不持有密钥，所有请求经由后端代理发出。

type OpenAIChatClient struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	// 简易重试（用于 429/5xx）：若为 0 则默认重试 2 次
	MaxRetries   int
	ExtraHeaders map[string]string
}

func (c *OpenAIChatClient) ID() string { return c.Model }

func (c *OpenAIChatClient) Complete(ctx context.Context, system string, messages []Message) (string, Usage, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	// 规范化 BaseURL，避免用户把完整的 /chat/completions 也写进了配置导致重复路径
	url := strings.TrimRight(c.BaseURL, "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	url = strings.TrimSuffix(url, "/chat/completions") + "/chat/completions"

	outgoing := make([]Message, 0, len(messages)+1)
	if strings.TrimSpace(system) != "" {
		outgoing = append(outgoing, Message{Role: "system", Content: system})
	}
	outgoing = append(outgoing, messages...)

	body := map[string]any{"model": c.Model, "messages": outgoing}
	if c.Temperature > 0 {
		body["temperature"] = c.Temperature
	}
	if c.MaxTokens > 0 {
		body["max_tokens"] = c.MaxTokens
	}
	b, _ := json.Marshal(body)

	logger.LogLLMRequest(c.Model, system, lastUserContent(messages), string(b))

	httpc := &http.Client{Timeout: timeout}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt == 0 {
			logger.Debugf("[chat] POST %s model=%s auth=%s body_bytes=%d", url, c.Model, maskKey(c.APIKey), len(b))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return "", Usage{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}
		for k, v := range c.ExtraHeaders {
			req.Header.Set(k, v)
		}

		resp, err := httpc.Do(req)
		if err != nil {
			lastErr = err
			break
		}
		if resp.StatusCode/100 == 2 {
			var r struct {
				Choices []struct {
					Message struct {
						Content string `json:"content"`
					} `json:"message"`
				} `json:"choices"`
				Usage Usage `json:"usage"`
			}
			derr := json.NewDecoder(resp.Body).Decode(&r)
			resp.Body.Close()
			if derr != nil {
				lastErr = derr
				break
			}
			if len(r.Choices) == 0 {
				lastErr = fmt.Errorf("empty choices")
				break
			}
			content := r.Choices[0].Message.Content
			logger.LogLLMResponse(c.Model, content)
			return content, r.Usage, nil
		}
		var eresp struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&eresp)
		resp.Body.Close()
		msg := strings.TrimSpace(eresp.Error.Message)
		if msg == "" {
			msg = resp.Status
		}
		lastErr = fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
		// 对 429/5xx 进行有限重试（带 Retry-After 支持）
		if retryable(resp.StatusCode) && attempt < maxRetries {
			wait := time.Duration(0)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, perr := strconv.Atoi(ra); perr == nil {
					wait = time.Duration(secs) * time.Second
				}
			}
			if wait == 0 {
				// 基本指数退避：0.8s, 1.6s, 3.2s ...
				wait = 800 * time.Millisecond << attempt
				if wait > 8*time.Second {
					wait = 8 * time.Second
				}
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", Usage{}, ctx.Err()
			}
			continue
		}
		break
	}
	return "", Usage{}, lastErr
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// maskKey 掩码 Bearer 密钥，仅展示后 4 位。
func maskKey(key string) string {
	if key == "" {
		return "-"
	}
	if len(key) > 4 {
		return "****" + key[len(key)-4:]
	}
	return "****"
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
