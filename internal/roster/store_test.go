package roster

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yk970217-wq/cleanbear/pkg/model"
)

type stubProvider struct {
	mu    sync.Mutex
	techs []*model.Technician
	err   error
	calls int32
}

func (p *stubProvider) ListActive(context.Context) ([]*model.Technician, error) {
	atomic.AddInt32(&p.calls, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.techs, p.err
}

func (p *stubProvider) set(techs []*model.Technician, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.techs, p.err = techs, err
}

func tech(id string) *model.Technician {
	return &model.Technician{
		TechnicianID:   id,
		ServiceTypes:   []string{"입주청소"},
		ServiceFactors: map[string]float64{"입주청소": 1.1},
	}
}

func TestStore_SnapshotIsDeepCopy(t *testing.T) {
	s := NewStore(nil)
	s.Replace([]*model.Technician{tech("A"), nil, tech("B")})
	require.Equal(t, 2, s.Len())

	snap := s.Snapshot()
	snap[0].ServiceTypes[0] = "changed"
	snap[0].ServiceFactors["입주청소"] = 9

	again := s.Snapshot()
	assert.Equal(t, "입주청소", again[0].ServiceTypes[0])
	assert.Equal(t, 1.1, again[0].ServiceFactors["입주청소"])
}

func TestStore_Refresh(t *testing.T) {
	p := &stubProvider{techs: []*model.Technician{tech("A")}}
	s := NewStore(p)

	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, 1, s.Len())
	assert.False(t, s.UpdatedAt().IsZero())

	t.Run("失败保留旧名册", func(t *testing.T) {
		p.set(nil, errors.New("db down"))
		require.Error(t, s.Refresh(context.Background()))
		assert.Equal(t, 1, s.Len())
	})

	t.Run("未配置来源", func(t *testing.T) {
		assert.Error(t, NewStore(nil).Refresh(context.Background()))
	})
}

func TestStore_Run(t *testing.T) {
	p := &stubProvider{techs: []*model.Technician{tech("A"), tech("B")}}
	s := NewStore(p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return s.Len() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run 未在取消后退出")
	}
}
