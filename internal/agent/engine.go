package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"majorgainz/internal/agent/persona"
	"majorgainz/internal/component"
	"majorgainz/internal/gateway/provider"
	"majorgainz/internal/logger"
	"majorgainz/internal/portfolio"
	"majorgainz/internal/store/gormstore"
)

// MessageStore 汇总对话落库的最小接口。
type MessageStore interface {
	SaveMessage(ctx context.Context, msg gormstore.ChatMessage) error
}

// PortfolioSource 按账户拉取组合上下文，用于请求未携带上下文时的服务端兜底。
type PortfolioSource interface {
	Build(ctx context.Context, network, accountID string) (*portfolio.Portfolio, error)
}

// TurnRequest 一次对话请求。PortfolioContext 优先使用调用方传入的数据，
// 为空且 AccountID 可用时由服务端自取。
type TurnRequest struct {
	Messages         []provider.Message `json:"messages"`
	Persona          string             `json:"persona,omitempty"`
	AccountID        string             `json:"accountId,omitempty"`
	Network          string             `json:"network,omitempty"`
	PortfolioContext map[string]any     `json:"portfolioContext,omitempty"`
	Scratchpad       string             `json:"scratchpadContext,omitempty"`
}

// Message 助手回复：正文已剥离组件标记，组件单独成列。
type Message struct {
	ID         string                  `json:"id"`
	Role       string                  `json:"role"`
	Text       string                  `json:"text"`
	Components []component.Instruction `json:"components,omitempty"`
	Persona    string                  `json:"persona,omitempty"`
	Usage      provider.Usage          `json:"usage"`
	CreatedAt  time.Time               `json:"createdAt"`
}

// Engine 驱动一轮对话：拼系统提示词、调模型、抽取组件指令、落库。
type Engine struct {
	provider  provider.ChatProvider
	personas  *persona.Registry
	parser    *component.Parser
	store     MessageStore
	portfolio PortfolioSource
}

// NewEngine constructs the chat engine. store 与 portfolio 可为 nil。
func NewEngine(p provider.ChatProvider, personas *persona.Registry, parser *component.Parser, store MessageStore, pf PortfolioSource) *Engine {
	if parser == nil {
		parser = component.NewParser(nil)
	}
	return &Engine{
		provider:  p,
		personas:  personas,
		parser:    parser,
		store:     store,
		portfolio: pf,
	}
}

// Turn runs one assistant turn.
func (e *Engine) Turn(ctx context.Context, req TurnRequest) (*Message, error) {
	if e == nil || e.provider == nil {
		return nil, fmt.Errorf("chat engine 未初始化")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages 不能为空")
	}

	var tpl persona.Template
	if e.personas != nil {
		found, ok := e.personas.Template(req.Persona)
		if !ok && strings.TrimSpace(req.Persona) != "" {
			return nil, fmt.Errorf("未知的 persona: %s", req.Persona)
		}
		tpl = found
		if req.PortfolioContext != nil {
			if err := e.personas.ValidateContext(req.Persona, req.PortfolioContext); err != nil {
				return nil, fmt.Errorf("portfolio context 校验失败: %w", err)
			}
		}
	}

	portfolioCtx := req.PortfolioContext
	var contextNote string
	if portfolioCtx == nil && req.AccountID != "" && e.portfolio != nil {
		p, err := e.portfolio.Build(ctx, req.Network, req.AccountID)
		if err != nil {
			// 组合拉取失败不阻断对话，提示词里明确告知模型数据缺失。
			contextNote = fmt.Sprintf("portfolio data unavailable: %v", err)
			logger.Warnf("agent: 账户 %s 组合拉取失败: %v", req.AccountID, err)
		} else {
			portfolioCtx = portfolioToContext(p)
		}
	}

	system := buildSystemPrompt(tpl, portfolioCtx, contextNote, req.Scratchpad)
	raw, usage, err := e.provider.Complete(ctx, system, req.Messages)
	if err != nil {
		return nil, fmt.Errorf("模型调用失败: %w", err)
	}

	result := e.parser.Parse(raw)
	msg := &Message{
		ID:         uuid.NewString(),
		Role:       "assistant",
		Text:       result.Text,
		Components: result.Components,
		Persona:    tpl.ID,
		Usage:      usage,
		CreatedAt:  time.Now(),
	}
	e.persist(ctx, req, msg)
	return msg, nil
}

// persist 落库采用尽力而为，失败只记日志。
func (e *Engine) persist(ctx context.Context, req TurnRequest, msg *Message) {
	if e.store == nil {
		return
	}
	if last := lastUserMessage(req.Messages); last != "" {
		userRow := gormstore.ChatMessage{
			ID:        uuid.NewString(),
			Role:      "user",
			Persona:   msg.Persona,
			Text:      last,
			CreatedAt: msg.CreatedAt,
		}
		if err := e.store.SaveMessage(ctx, userRow); err != nil {
			logger.Warnf("agent: 用户消息落库失败: %v", err)
		}
	}
	row := gormstore.ChatMessage{
		ID:           msg.ID,
		Role:         msg.Role,
		Persona:      msg.Persona,
		Text:         msg.Text,
		PromptTokens: msg.Usage.PromptTokens,
		TotalTokens:  msg.Usage.TotalTokens,
		CreatedAt:    msg.CreatedAt,
	}
	if len(msg.Components) > 0 {
		row.Components = msg.Components
	}
	if err := e.store.SaveMessage(ctx, row); err != nil {
		logger.Warnf("agent: 助手消息落库失败: %v", err)
	}
}

func lastUserMessage(messages []provider.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if strings.EqualFold(messages[i].Role, "user") {
			return messages[i].Content
		}
	}
	return ""
}
