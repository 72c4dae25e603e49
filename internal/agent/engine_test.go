package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"majorgainz/internal/agent/persona"
	"majorgainz/internal/component"
	"majorgainz/internal/gateway/provider"
	"majorgainz/internal/portfolio"
	"majorgainz/internal/store/gormstore"
)

type MockChatProvider struct {
	mock.Mock
}

func (m *MockChatProvider) ID() string { return "mock" }

func (m *MockChatProvider) Complete(ctx context.Context, system string, messages []provider.Message) (string, provider.Usage, error) {
	args := m.Called(ctx, system, messages)
	return args.String(0), args.Get(1).(provider.Usage), args.Error(2)
}

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) SaveMessage(ctx context.Context, msg gormstore.ChatMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type MockPortfolioSource struct {
	mock.Mock
}

func (m *MockPortfolioSource) Build(ctx context.Context, network, accountID string) (*portfolio.Portfolio, error) {
	args := m.Called(ctx, network, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*portfolio.Portfolio), args.Error(1)
}

func userTurn(text string) []provider.Message {
	return []provider.Message{{Role: "user", Content: text}}
}

func TestTurnExtractsComponents(t *testing.T) {
	prov := new(MockChatProvider)
	prov.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return("Here is your allocation:\n\n[CHART:portfolio-chart]", provider.Usage{PromptTokens: 12, TotalTokens: 40}, nil)

	engine := NewEngine(prov, nil, component.NewParser(nil), nil, nil)
	msg, err := engine.Turn(context.Background(), TurnRequest{Messages: userTurn("show my portfolio")})
	require.NoError(t, err)

	assert.Equal(t, "assistant", msg.Role)
	assert.Equal(t, "Here is your allocation:", msg.Text)
	require.Len(t, msg.Components, 1)
	assert.Equal(t, component.TypePortfolioChart, msg.Components[0].Type)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, 40, msg.Usage.TotalTokens)
	prov.AssertExpectations(t)
}

func TestTurnPlainReplyTriggersFallback(t *testing.T) {
	prov := new(MockChatProvider)
	prov.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return("Let me show your portfolio allocation in detail.", provider.Usage{}, nil)

	engine := NewEngine(prov, nil, component.NewParser(nil), nil, nil)
	msg, err := engine.Turn(context.Background(), TurnRequest{Messages: userTurn("allocation?")})
	require.NoError(t, err)

	assert.Equal(t, "Let me show your portfolio allocation in detail.", msg.Text)
	require.Len(t, msg.Components, 1)
	assert.Equal(t, component.TypePortfolioChart, msg.Components[0].Type)
}

func TestTurnPersistsBothMessages(t *testing.T) {
	prov := new(MockChatProvider)
	prov.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return("ok", provider.Usage{}, nil)

	store := new(MockMessageStore)
	store.On("SaveMessage", mock.Anything, mock.MatchedBy(func(m gormstore.ChatMessage) bool {
		return m.Role == "user" && m.Text == "hello"
	})).Return(nil).Once()
	store.On("SaveMessage", mock.Anything, mock.MatchedBy(func(m gormstore.ChatMessage) bool {
		return m.Role == "assistant"
	})).Return(nil).Once()

	engine := NewEngine(prov, nil, component.NewParser(nil), store, nil)
	_, err := engine.Turn(context.Background(), TurnRequest{Messages: userTurn("hello")})
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestTurnStoreFailureDoesNotFailTurn(t *testing.T) {
	prov := new(MockChatProvider)
	prov.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return("ok", provider.Usage{}, nil)

	store := new(MockMessageStore)
	store.On("SaveMessage", mock.Anything, mock.Anything).Return(fmt.Errorf("disk full"))

	engine := NewEngine(prov, nil, component.NewParser(nil), store, nil)
	msg, err := engine.Turn(context.Background(), TurnRequest{Messages: userTurn("hello")})
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Text)
}

func TestTurnFetchesPortfolioContext(t *testing.T) {
	prov := new(MockChatProvider)
	var capturedSystem string
	prov.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			capturedSystem = args.String(1)
		}).
		Return("ok", provider.Usage{}, nil)

	pf := new(MockPortfolioSource)
	pf.On("Build", mock.Anything, "mainnet", "0.0.12345").Return(&portfolio.Portfolio{
		AccountID: "0.0.12345",
		TotalUSD:  1234.56,
		Holdings: []portfolio.Holding{
			{Symbol: "HBAR", Amount: 5000, ValueUSD: 1000, Percent: 81},
			{Symbol: "SAUCE", Amount: 300, ValueUSD: 234.56, Percent: 19},
		},
	}, nil)

	engine := NewEngine(prov, nil, component.NewParser(nil), nil, pf)
	_, err := engine.Turn(context.Background(), TurnRequest{
		Messages:  userTurn("how am I doing?"),
		AccountID: "0.0.12345",
		Network:   "mainnet",
	})
	require.NoError(t, err)
	assert.Contains(t, capturedSystem, "Account: 0.0.12345")
	assert.Contains(t, capturedSystem, "$1234.56")
	assert.Contains(t, capturedSystem, "HBAR")
	pf.AssertExpectations(t)
}

func TestTurnPortfolioFailureDegrades(t *testing.T) {
	prov := new(MockChatProvider)
	var capturedSystem string
	prov.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			capturedSystem = args.String(1)
		}).
		Return("ok", provider.Usage{}, nil)

	pf := new(MockPortfolioSource)
	pf.On("Build", mock.Anything, mock.Anything, mock.Anything).Return(nil, fmt.Errorf("mirror down"))

	engine := NewEngine(prov, nil, component.NewParser(nil), nil, pf)
	msg, err := engine.Turn(context.Background(), TurnRequest{
		Messages:  userTurn("hi"),
		AccountID: "0.0.12345",
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Text)
	assert.Contains(t, capturedSystem, "portfolio data unavailable")
}

func TestTurnProviderErrorPropagates(t *testing.T) {
	prov := new(MockChatProvider)
	prov.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return("", provider.Usage{}, fmt.Errorf("rate limited"))

	engine := NewEngine(prov, nil, component.NewParser(nil), nil, nil)
	_, err := engine.Turn(context.Background(), TurnRequest{Messages: userTurn("hi")})
	assert.Error(t, err)
}

func TestTurnRejectsEmptyMessages(t *testing.T) {
	engine := NewEngine(new(MockChatProvider), nil, component.NewParser(nil), nil, nil)
	_, err := engine.Turn(context.Background(), TurnRequest{})
	assert.Error(t, err)
}

func personaTemplateForTest() persona.Template {
	return persona.Template{ID: "analyst", SystemPrompt: "You are Major Gainz."}
}

func TestBuildSystemPromptIncludesGuide(t *testing.T) {
	got := buildSystemPrompt(personaTemplateForTest(), nil, "", "remember: user prefers ETH comparisons")
	assert.Contains(t, got, "CHART_COMPONENT")
	assert.Contains(t, got, "portfolio-chart")
	assert.Contains(t, got, "scratchpad")
	assert.Contains(t, got, "user prefers ETH comparisons")
}
