// Package matcher 提供候选技师比较策略和直线距离路程估算
package matcher

import (
	"context"
	"math"

	"github.com/yk970217-wq/cleanbear/pkg/model"
)

// Candidate 通过时间检查的候选技师
type Candidate struct {
	State  *model.WorkingState
	Score  float64 // 时间检查得分（路程时间）
	Travel float64
}

// Comparator 候选比较策略
type Comparator interface {
	Name() string
	// Better 报告 a 是否严格优于当前最优 b
	Better(a, b Candidate) bool
}

// NearestFirst 路程最短优先，得分相同时先评估的技师胜出
type NearestFirst struct{}

// Name 策略名称
func (NearestFirst) Name() string { return "nearest" }

// Better 得分严格更小才替换
func (NearestFirst) Better(a, b Candidate) bool {
	return a.Score < b.Score
}

// RoundRobin 轮转公平策略
//
// 得分加上已分配数量的惩罚后比较；仍相同时按名册轮转顺序，
// 从 Offset 的下一位开始优先。
type RoundRobin struct {
	Offset      int     // 上一批次最后一次分配的技师位置
	N           int     // 名册人数
	LoadPenalty float64 // 每个已提交作业的惩罚分
}

// Name 策略名称
func (r RoundRobin) Name() string { return "round_robin" }

// Adjusted 加入负载惩罚后的得分
func (r RoundRobin) Adjusted(c Candidate) float64 {
	return c.Score + r.LoadPenalty*float64(c.State.AssignmentCount())
}

// Better 先比较调整后得分，再比较轮转顺序
func (r RoundRobin) Better(a, b Candidate) bool {
	sa, sb := r.Adjusted(a), r.Adjusted(b)
	if sa != sb {
		return sa < sb
	}
	return r.rank(a.State.Index) < r.rank(b.State.Index)
}

func (r RoundRobin) rank(index int) int {
	if r.N <= 0 {
		return index
	}
	return ((index-r.Offset-1)%r.N + r.N) % r.N
}

// 默认参数
const (
	DefaultAvgSpeedKmh = 30.0
	DefaultFailMinutes = 9999.0
)

// Estimator 按直线距离和平均车速估算路程时间，未配置地图服务时使用
type Estimator struct {
	AvgSpeedKmh float64
	FailMinutes float64
}

// NewEstimator 创建估算器
func NewEstimator(avgSpeedKmh float64) *Estimator {
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = DefaultAvgSpeedKmh
	}
	return &Estimator{AvgSpeedKmh: avgSpeedKmh, FailMinutes: DefaultFailMinutes}
}

// TravelMinutes 估算路程分钟数，保留一位小数；任一端没有坐标时返回失败值
func (e *Estimator) TravelMinutes(_ context.Context, from, to model.Location) float64 {
	if !from.HasCoordinates() || !to.HasCoordinates() {
		return e.FailMinutes
	}
	minutes := from.Distance(to) / e.AvgSpeedKmh * 60
	return math.Round(minutes*10) / 10
}
