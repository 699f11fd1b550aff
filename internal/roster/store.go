// Package roster 维护技师名册快照
//
// 派单批次开始时取一份深拷贝，后台刷新只替换整份名册，不影响进行中的批次。
package roster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yk970217-wq/cleanbear/pkg/logger"
	"github.com/yk970217-wq/cleanbear/pkg/model"
)

// Provider 名册来源
type Provider interface {
	ListActive(ctx context.Context) ([]*model.Technician, error)
}

// Store 名册存储
type Store struct {
	mu        sync.RWMutex
	techs     []*model.Technician
	updatedAt time.Time
	provider  Provider
}

// NewStore 创建名册存储，provider 可为 nil（只能通过 Replace 更新）
func NewStore(provider Provider) *Store {
	return &Store{provider: provider}
}

// Snapshot 返回名册的深拷贝
func (s *Store) Snapshot() []*model.Technician {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Technician, len(s.techs))
	for i, t := range s.techs {
		out[i] = t.Clone()
	}
	return out
}

// Len 名册人数
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.techs)
}

// UpdatedAt 最近一次更新时间
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Replace 替换整份名册
func (s *Store) Replace(techs []*model.Technician) {
	copied := make([]*model.Technician, 0, len(techs))
	for _, t := range techs {
		if t != nil {
			copied = append(copied, t.Clone())
		}
	}

	s.mu.Lock()
	s.techs = copied
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// Refresh 从来源重新加载；失败时保留原名册
func (s *Store) Refresh(ctx context.Context) error {
	if s.provider == nil {
		return fmt.Errorf("名册来源未配置")
	}

	techs, err := s.provider.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("刷新名册失败: %w", err)
	}
	s.Replace(techs)

	logger.WithContext(ctx).Info().Int("technicians", len(techs)).Msg("技师名册已刷新")
	return nil
}

// Run 按间隔刷新直到 ctx 结束
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.provider == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				logger.Warn().Err(err).Msg("名册刷新失败，继续使用旧名册")
			}
		}
	}
}
