package model

import (
	"time"

	"gorm.io/datatypes"
)

// CandleModel OHLCV 日线存储，token_id + date 唯一。
type CandleModel struct {
	ID      int64     `gorm:"column:id;primaryKey"`
	TokenID string    `gorm:"column:token_id;index;uniqueIndex:idx_token_date"`
	Symbol  string    `gorm:"column:symbol;index"`
	Date    time.Time `gorm:"column:date;uniqueIndex:idx_token_date"`
	Open    float64   `gorm:"column:open"`
	High    float64   `gorm:"column:high"`
	Low     float64   `gorm:"column:low"`
	Close   float64   `gorm:"column:close"`
	Volume  float64   `gorm:"column:volume"`
	// Source 标记数据来源，saucerswap 或 binance。
	Source        string `gorm:"column:source"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
}

// TableName overrides the gorm default.
func (CandleModel) TableName() string { return "ohlcv_daily" }

// ChatMessageModel 会话消息日志。Components 保存提取出的组件指令 JSON。
type ChatMessageModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	Role          string         `gorm:"column:role;index"`
	Persona       string         `gorm:"column:persona"`
	Text          string         `gorm:"column:text"`
	Components    datatypes.JSON `gorm:"column:components"`
	PromptTokens  int            `gorm:"column:prompt_tokens"`
	TotalTokens   int            `gorm:"column:total_tokens"`
	CreatedAtUnix int64          `gorm:"column:created_at;index"`
}

// TableName overrides the gorm default.
func (ChatMessageModel) TableName() string { return "chat_messages" }
