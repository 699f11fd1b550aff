// Package dispatcher 提供派单引擎
//
// 引擎按输入顺序逐个处理作业：筛选候选技师、检查时间、选出最优、立即提交。
// 已提交的分配不会再调整，后面的作业只能看到前面作业占用的技师。
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yk970217-wq/cleanbear/pkg/dispatcher/fallback"
	"github.com/yk970217-wq/cleanbear/pkg/dispatcher/fit"
	"github.com/yk970217-wq/cleanbear/pkg/dispatcher/matcher"
	"github.com/yk970217-wq/cleanbear/pkg/logger"
	"github.com/yk970217-wq/cleanbear/pkg/model"
)

// TravelTimer 路程时间查询，失败时返回一个很大的值而不是错误
type TravelTimer interface {
	TravelMinutes(ctx context.Context, from, to model.Location) float64
}

// Observer 派单过程观察者（指标采集）
type Observer interface {
	JobClassified(status model.AssignmentStatus)
	FitRejected(reason string)
}

// Result 批量派单结果，三个列表按作业划分输入且保持输入顺序
type Result struct {
	BatchID    string
	Assigned   []*model.Assignment
	Failed     []*model.Assignment
	Deferred   []*model.Assignment
	NextOffset int // 最后一次分配的技师位置，供下一批次轮转使用
	Duration   time.Duration
}

// Total 作业总数
func (r *Result) Total() int {
	return len(r.Assigned) + len(r.Failed) + len(r.Deferred)
}

// Scheduler 派单调度器，单个批次独占，不可并发使用
type Scheduler struct {
	rules      model.SystemRules
	checker    *fit.Checker
	resolver   *fallback.Resolver
	travel     TravelTimer
	comparator matcher.Comparator
	observer   Observer
	log        *logger.DispatchLogger

	reserveCapacity bool
	batchID         string
	lastIndex       int

	states []*model.WorkingState
}

// Option 调度器选项
type Option func(*Scheduler)

// WithComparator 设置候选比较策略，默认路程最短优先
func WithComparator(c matcher.Comparator) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.comparator = c
		}
	}
}

// WithResolver 设置缺失字段补齐器
func WithResolver(r *fallback.Resolver) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithLogger 设置日志器
func WithLogger(l *logger.DispatchLogger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithObserver 设置观察者
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// WithFlexibleCapacity 弹性作业是否预留时段容量，默认开启
func WithFlexibleCapacity(enabled bool) Option {
	return func(s *Scheduler) {
		s.reserveCapacity = enabled
	}
}

// WithBatchID 指定批次ID，默认随机生成
func WithBatchID(id string) Option {
	return func(s *Scheduler) {
		if id != "" {
			s.batchID = id
		}
	}
}

// New 创建调度器
// technicians 会被复制，调用方之后修改名册不影响本次派单
func New(technicians []*model.Technician, states []model.TechnicianState, rules model.SystemRules, travel TravelTimer, opts ...Option) (*Scheduler, error) {
	if travel == nil {
		return nil, fmt.Errorf("travel timer 不能为空")
	}

	s := &Scheduler{
		rules:           rules,
		resolver:        fallback.NewResolver(nil),
		travel:          travel,
		comparator:      matcher.NearestFirst{},
		log:             logger.NopDispatchLogger(),
		reserveCapacity: true,
		batchID:         uuid.NewString(),
		lastIndex:       -1,
	}
	for _, opt := range opts {
		opt(s)
	}

	checker, err := fit.NewChecker(rules, fit.WithCapacityReservation(s.reserveCapacity))
	if err != nil {
		return nil, err
	}
	s.checker = checker

	stateByID := make(map[string]*model.TechnicianState, len(states))
	for i := range states {
		if states[i].TechnicianID == "" {
			continue
		}
		stateByID[states[i].TechnicianID] = &states[i]
	}

	seen := make(map[string]bool, len(technicians))
	for _, tech := range technicians {
		if tech == nil {
			continue
		}
		if seen[tech.TechnicianID] {
			return nil, fmt.Errorf("技师ID重复: %s", tech.TechnicianID)
		}
		seen[tech.TechnicianID] = true

		state := stateByID[tech.TechnicianID]
		ws := model.NewWorkingState(tech.Clone(), len(s.states), state)
		if state != nil {
			date, clock, err := model.ParseLastEndTime(state.LastEndTime)
			if err != nil {
				s.log.StateIgnored(tech.TechnicianID, err.Error())
			} else {
				ws.Seed(date, clock)
			}
		}
		s.states = append(s.states, ws)
	}

	return s, nil
}

// BatchID 批次ID
func (s *Scheduler) BatchID() string {
	return s.batchID
}

// Comparator 当前比较策略
func (s *Scheduler) Comparator() matcher.Comparator {
	return s.comparator
}

// AssignJobs 按输入顺序派单
// 可对同一个调度器再次调用（例如处理延后的作业），技师状态会延续
func (s *Scheduler) AssignJobs(ctx context.Context, jobs []*model.Job) *Result {
	start := time.Now()
	s.log.StartBatch(s.batchID, len(jobs), len(s.states))

	result := &Result{BatchID: s.batchID}
	for _, job := range jobs {
		if job == nil {
			continue
		}

		a := s.assignOne(ctx, job)
		switch a.Status {
		case model.StatusFailed:
			result.Failed = append(result.Failed, a)
			s.log.JobFailed(job.JobID, job.ErrorReason)
		case model.StatusDeferred:
			result.Deferred = append(result.Deferred, a)
			s.log.JobDeferred(job.JobID, job.Date)
		default:
			result.Assigned = append(result.Assigned, a)
			s.log.JobAssigned(job.JobID, a.Technician.TechnicianID, a.TravelMinutes)
		}
		if s.observer != nil {
			s.observer.JobClassified(a.Status)
		}
	}

	result.NextOffset = s.nextOffset()
	result.Duration = time.Since(start)
	s.log.BatchComplete(s.batchID, result.Duration, len(result.Assigned), len(result.Failed), len(result.Deferred))
	return result
}

// assignOne 处理单个作业，返回值的状态决定其归类
func (s *Scheduler) assignOne(ctx context.Context, job *model.Job) *model.Assignment {
	if job.Failed() {
		return model.NewFailedAssignment(job)
	}
	if !s.resolver.Prepare(job) {
		return model.NewFailedAssignment(job)
	}

	// 1. 能力筛选
	capable := s.filter(s.states, func(ws *model.WorkingState) bool {
		return ws.Technician.CanHandleService(job.ServiceType)
	})
	if len(capable) == 0 {
		job.Fail(model.ReasonNoCapableTechnician)
		return model.NewFailedAssignment(job)
	}

	// 2. 休息日筛选
	onDuty := s.filter(capable, func(ws *model.WorkingState) bool {
		return !ws.Technician.IsOff(job.Date)
	})
	if len(onDuty) == 0 {
		job.Fail(model.ReasonTechniciansOff)
		return model.NewFailedAssignment(job)
	}

	// 3. 预约天数上限，筛空时延后而不是失败
	eligible := s.filter(onDuty, func(ws *model.WorkingState) bool {
		return ws.CanAssignDate(job.Date, s.rules.MaxPreassignDays)
	})
	if len(eligible) == 0 {
		return model.NewDeferredAssignment(job)
	}

	// 4. 逐个检查时间，记录第一个拒绝原因
	var (
		best        *matcher.Candidate
		bestResult  fit.Result
		firstReason string
	)
	for _, ws := range eligible {
		from := fallback.Origin(ws)
		travel := s.travel.TravelMinutes(ctx, from, job.Location)

		r := s.checker.Check(ws, job, travel)
		if !r.Fits {
			if s.observer != nil {
				s.observer.FitRejected(r.Reason)
			}
			if firstReason == "" {
				firstReason = r.Reason
			}
			continue
		}

		cand := matcher.Candidate{State: ws, Score: r.Score, Travel: travel}
		if best == nil || s.comparator.Better(cand, *best) {
			best = &cand
			bestResult = r
		}
	}

	if best == nil {
		if firstReason == "" {
			firstReason = model.ReasonCannotFit
		}
		job.Fail(firstReason)
		return model.NewFailedAssignment(job)
	}

	// 5. 提交
	s.resolver.Resolve(job, best.State)
	a := s.buildAssignment(job, best.State, best.Travel, bestResult)
	best.State.Commit(a)
	s.lastIndex = best.State.Index
	return a
}

func (s *Scheduler) buildAssignment(job *model.Job, ws *model.WorkingState, travel float64, r fit.Result) *model.Assignment {
	a := &model.Assignment{
		Job:           job,
		Technician:    ws.Technician,
		TravelMinutes: travel,
		Interval:      r.Interval,
		SpanMin:       r.SpanMin,
		EffectiveMin:  r.EffectiveMin,
	}
	if job.HasFixedStart() {
		a.Status = model.StatusAssigned
		a.StartTime = model.FormatClock(r.Interval.Start)
		a.EndTime = model.FormatClock(r.Interval.End)
	} else {
		a.Status = model.StatusTimeUndefined
	}
	return a
}

func (s *Scheduler) filter(in []*model.WorkingState, keep func(*model.WorkingState) bool) []*model.WorkingState {
	out := make([]*model.WorkingState, 0, len(in))
	for _, ws := range in {
		if keep(ws) {
			out = append(out, ws)
		}
	}
	return out
}

func (s *Scheduler) nextOffset() int {
	if s.lastIndex >= 0 {
		return s.lastIndex
	}
	if rr, ok := s.comparator.(matcher.RoundRobin); ok {
		return rr.Offset
	}
	return 0
}

// States 导出当前技师状态，供持久化后在下一批次使用
func (s *Scheduler) States() []model.TechnicianState {
	out := make([]model.TechnicianState, 0, len(s.states))
	for _, ws := range s.states {
		out = append(out, ws.Snapshot())
	}
	return out
}

// TechnicianIDs 名册中的技师ID，按名册顺序
func (s *Scheduler) TechnicianIDs() []string {
	ids := make([]string, 0, len(s.states))
	for _, ws := range s.states {
		ids = append(ids, ws.Technician.TechnicianID)
	}
	return ids
}

// WorkingState 按ID查找技师工作状态
func (s *Scheduler) WorkingState(technicianID string) (*model.WorkingState, bool) {
	for _, ws := range s.states {
		if ws.Technician.TechnicianID == technicianID {
			return ws, true
		}
	}
	return nil, false
}
