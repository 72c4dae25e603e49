package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	storemodel "majorgainz/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type candleModel = storemodel.CandleModel
type chatMessageModel = storemodel.ChatMessageModel

// Candle 服务层使用的日线视图。
type Candle struct {
	TokenID string    `json:"tokenId"`
	Symbol  string    `json:"symbol"`
	Date    time.Time `json:"date"`
	Open    float64   `json:"open"`
	High    float64   `json:"high"`
	Low     float64   `json:"low"`
	Close   float64   `json:"close"`
	Volume  float64   `json:"volume"`
	Source  string    `json:"source,omitempty"`
}

// ChatMessage 持久化后的会话消息。
type ChatMessage struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	Persona      string    `json:"persona,omitempty"`
	Text         string    `json:"text"`
	Components   any       `json:"components,omitempty"`
	PromptTokens int       `json:"promptTokens,omitempty"`
	TotalTokens  int       `json:"totalTokens,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store implements OHLCV and chat message storage using Gorm + SQLite.
type Store struct {
	db *gorm.DB
}

// New initializes the store and migrates its tables.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&candleModel{}, &chatMessageModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveCandles upserts daily candles, keyed by token id + date.
func (s *Store) SaveCandles(ctx context.Context, candles []Candle) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if len(candles) == 0 {
		return nil
	}
	now := time.Now().Unix()
	rows := make([]candleModel, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, candleModel{
			TokenID:       c.TokenID,
			Symbol:        strings.ToUpper(strings.TrimSpace(c.Symbol)),
			Date:          c.Date.UTC().Truncate(24 * time.Hour),
			Open:          c.Open,
			High:          c.High,
			Low:           c.Low,
			Close:         c.Close,
			Volume:        c.Volume,
			Source:        c.Source,
			CreatedAtUnix: now,
		})
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "source"}),
	}).CreateInBatches(rows, 200).Error
}

// CandleRange returns candles for a token within [from, to], ascending by date.
func (s *Store) CandleRange(ctx context.Context, tokenID string, from, to time.Time) ([]Candle, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var rows []candleModel
	err := s.db.WithContext(ctx).
		Where("token_id = ? AND date >= ? AND date <= ?", tokenID, from.UTC(), to.UTC()).
		Order("date asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toCandles(rows), nil
}

// LatestCandle returns the most recent candle for a token, nil when absent.
func (s *Store) LatestCandle(ctx context.Context, tokenID string) (*Candle, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var row candleModel
	err := s.db.WithContext(ctx).
		Where("token_id = ?", tokenID).
		Order("date desc").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c := toCandle(row)
	return &c, nil
}

// SaveMessage persists one chat message. Components is marshalled to JSON.
func (s *Store) SaveMessage(ctx context.Context, msg ChatMessage) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if strings.TrimSpace(msg.ID) == "" {
		return fmt.Errorf("消息 ID 不能为空")
	}
	var comps datatypes.JSON
	if msg.Components != nil {
		buf, err := json.Marshal(msg.Components)
		if err != nil {
			return fmt.Errorf("序列化组件指令失败: %w", err)
		}
		comps = datatypes.JSON(buf)
	}
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	row := chatMessageModel{
		ID:            msg.ID,
		Role:          msg.Role,
		Persona:       msg.Persona,
		Text:          msg.Text,
		Components:    comps,
		PromptTokens:  msg.PromptTokens,
		TotalTokens:   msg.TotalTokens,
		CreatedAtUnix: created.Unix(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&row).Error
}

// RecentMessages returns the latest n messages, newest first.
func (s *Store) RecentMessages(ctx context.Context, n int) ([]ChatMessage, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if n <= 0 {
		n = 50
	}
	var rows []chatMessageModel
	err := s.db.WithContext(ctx).
		Order("created_at desc").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]ChatMessage, 0, len(rows))
	for _, row := range rows {
		msg := ChatMessage{
			ID:           row.ID,
			Role:         row.Role,
			Persona:      row.Persona,
			Text:         row.Text,
			PromptTokens: row.PromptTokens,
			TotalTokens:  row.TotalTokens,
			CreatedAt:    time.Unix(row.CreatedAtUnix, 0),
		}
		if len(row.Components) > 0 {
			var comps any
			if err := json.Unmarshal(row.Components, &comps); err == nil {
				msg.Components = comps
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

func toCandles(rows []candleModel) []Candle {
	out := make([]Candle, 0, len(rows))
	for _, row := range rows {
		out = append(out, toCandle(row))
	}
	return out
}

func toCandle(row candleModel) Candle {
	return Candle{
		TokenID: row.TokenID,
		Symbol:  row.Symbol,
		Date:    row.Date,
		Open:    row.Open,
		High:    row.High,
		Low:     row.Low,
		Close:   row.Close,
		Volume:  row.Volume,
		Source:  row.Source,
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建数据库目录失败: %w", err)
	}
	return nil
}
