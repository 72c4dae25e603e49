package holdersdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

// Store 只读访问离线导出的 token 持仓快照库（token_holdings.db）。
// 快照由链下任务生成，这里不负责写入。
type Store struct {
	db   *sql.DB
	path string
}

// Holder 某个 token 的单个持仓账户。
type Holder struct {
	AccountID string  `json:"accountId"`
	Balance   float64 `json:"balance"`
	Rank      int     `json:"rank"`
}

// PercentileRow 某个余额在持仓分布中的分位。
type PercentileRow struct {
	Balance    float64 `json:"balance"`
	Percentile float64 `json:"percentile"`
}

// Open opens the snapshot database read-only. The file must already exist.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("holders db 路径不能为空")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("holders db 不存在: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开 holders db 失败: %w", err)
	}
	db.SetMaxOpenConns(2)
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// TopHolders returns the largest n accounts for one token symbol.
func (s *Store) TopHolders(ctx context.Context, symbol string, n int) ([]Holder, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("holders db 未初始化")
	}
	if n <= 0 {
		n = 20
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return nil, fmt.Errorf("token symbol 不能为空")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, balance FROM token_holdings
		 WHERE upper(token_symbol) = ? AND balance > 0
		 ORDER BY balance DESC LIMIT ?`, sym, n)
	if err != nil {
		return nil, fmt.Errorf("查询 top holders 失败: %w", err)
	}
	defer rows.Close()
	var out []Holder
	rank := 0
	for rows.Next() {
		var h Holder
		if err := rows.Scan(&h.AccountID, &h.Balance); err != nil {
			return nil, err
		}
		rank++
		h.Rank = rank
		out = append(out, h)
	}
	return out, rows.Err()
}

// Percentiles computes the distribution percentile for each requested balance.
// 余额大于等于 balance 的账户占比越小，分位越高。
func (s *Store) Percentiles(ctx context.Context, symbol string, balances []float64) ([]PercentileRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("holders db 未初始化")
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return nil, fmt.Errorf("token symbol 不能为空")
	}
	all, err := s.allBalances(ctx, sym)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("没有 %s 的持仓快照", sym)
	}
	out := make([]PercentileRow, 0, len(balances))
	for _, b := range balances {
		// all 升序，找到第一个 > b 的位置即为排名。
		idx := sort.SearchFloat64s(all, b)
		for idx < len(all) && all[idx] <= b {
			idx++
		}
		pct := float64(idx) / float64(len(all)) * 100
		out = append(out, PercentileRow{Balance: b, Percentile: pct})
	}
	return out, nil
}

// HolderCount returns how many accounts hold a positive balance.
func (s *Store) HolderCount(ctx context.Context, symbol string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("holders db 未初始化")
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM token_holdings WHERE upper(token_symbol) = ? AND balance > 0`, sym).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("统计 holders 失败: %w", err)
	}
	return n, nil
}

func (s *Store) allBalances(ctx context.Context, sym string) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT balance FROM token_holdings
		 WHERE upper(token_symbol) = ? AND balance > 0
		 ORDER BY balance ASC`, sym)
	if err != nil {
		return nil, fmt.Errorf("查询持仓分布失败: %w", err)
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var b float64
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
