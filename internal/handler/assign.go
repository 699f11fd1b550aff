// Package handler 提供API处理器
package handler

import (
	"context"
	"time"

	"github.com/yk970217-wq/cleanbear/internal/config"
	"github.com/yk970217-wq/cleanbear/internal/notify"
	"github.com/yk970217-wq/cleanbear/pkg/dispatcher"
	"github.com/yk970217-wq/cleanbear/pkg/dispatcher/fallback"
	"github.com/yk970217-wq/cleanbear/pkg/dispatcher/matcher"
	"github.com/yk970217-wq/cleanbear/pkg/errors"
	"github.com/yk970217-wq/cleanbear/pkg/logger"
	"github.com/yk970217-wq/cleanbear/pkg/model"
	"github.com/yk970217-wq/cleanbear/pkg/report"
	"github.com/yk970217-wq/cleanbear/pkg/stats"
	"github.com/yk970217-wq/cleanbear/pkg/validator"
)

// RosterSource 技师名册快照
type RosterSource interface {
	Snapshot() []*model.Technician
}

// StateStore 技师状态存储
type StateStore interface {
	List(ctx context.Context) ([]model.TechnicianState, error)
	UpsertAll(ctx context.Context, states []model.TechnicianState) error
}

// HistoryStore 派单结果存储
type HistoryStore interface {
	SaveBatch(ctx context.Context, batchID string, records []model.AssignmentRecord) error
}

// BatchRecorder 批次指标
type BatchRecorder interface {
	RecordBatch(duration time.Duration, loadGini float64)
}

// Summary 结果汇总
type Summary struct {
	TotalJobs int `json:"total_jobs"`
	Assigned  int `json:"assigned"`
	Failed    int `json:"failed"`
	Deferred  int `json:"deferred"`
}

// MachineOutput 机器可读的派单结果
type MachineOutput struct {
	Success            bool                      `json:"success"`
	Error              string                    `json:"error,omitempty"`
	BatchID            string                    `json:"batch_id,omitempty"`
	AssignedJobs       []model.AssignmentRecord  `json:"assigned_jobs"`
	FailedJobs         []model.AssignmentRecord  `json:"failed_jobs"`
	DeferredJobs       []model.AssignmentRecord  `json:"deferred_jobs"`
	Summary            Summary                   `json:"summary"`
	SkippedTechnicians []model.SkippedTechnician `json:"skipped_technicians,omitempty"`
	Stats              *stats.BatchStats         `json:"stats,omitempty"`
	NextIndex          *int                      `json:"next_index,omitempty"`
}

// Response 派单响应
type Response struct {
	MachineOutput MachineOutput `json:"machine_output"`
	HumanMessage  string        `json:"human_message"`
}

// Service 批量派单服务，组装引擎和各个外部依赖
type Service struct {
	ingestor    *Ingestor
	travel      dispatcher.TravelTimer
	dispatch    config.DispatchConfig
	failMinutes float64

	roster    RosterSource
	states    StateStore
	history   HistoryStore
	publisher notify.Publisher
	observer  dispatcher.Observer
	recorder  BatchRecorder
}

// ServiceOption 服务选项
type ServiceOption func(*Service)

// WithRoster 请求未提供技师时使用名册
func WithRoster(r RosterSource) ServiceOption {
	return func(s *Service) { s.roster = r }
}

// WithStateStore 读取和保存技师状态
func WithStateStore(st StateStore) ServiceOption {
	return func(s *Service) { s.states = st }
}

// WithHistoryStore 保存派单结果
func WithHistoryStore(h HistoryStore) ServiceOption {
	return func(s *Service) { s.history = h }
}

// WithPublisher 推送派单结果
func WithPublisher(p notify.Publisher) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithObserver 引擎观察者
func WithObserver(o dispatcher.Observer) ServiceOption {
	return func(s *Service) { s.observer = o }
}

// WithBatchRecorder 批次指标
func WithBatchRecorder(r BatchRecorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// NewService 创建派单服务
func NewService(cfg *config.Config, travel dispatcher.TravelTimer, opts ...ServiceOption) *Service {
	s := &Service{
		ingestor:    NewIngestor(cfg.Rules.SystemRules()),
		travel:      travel,
		dispatch:    cfg.Dispatch,
		failMinutes: cfg.Routing.FailMinutes,
		publisher:   notify.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run 执行一次批量派单
// 出错时同样返回带错误信息的响应，调用方直接输出即可
func (s *Service) Run(ctx context.Context, req *AssignRequest) (*Response, *errors.AppError) {
	total := 0
	if req != nil {
		total = len(req.Jobs)
	}

	batch, appErr := s.ingestor.Parse(req)
	if appErr != nil {
		return errorResponse(total, appErr), appErr
	}
	if len(batch.Jobs) == 0 {
		appErr = errors.New(errors.CodeInvalidInput, "작업 데이터가 없습니다")
		return errorResponse(total, appErr), appErr
	}

	techs := batch.Technicians
	if len(req.Technicians) == 0 && s.roster != nil {
		techs = s.roster.Snapshot()
	}
	if len(techs) == 0 {
		appErr = errors.New(errors.CodeInvalidInput, "기사 데이터가 없습니다")
		return errorResponse(total, appErr), appErr
	}

	log := logger.WithContext(ctx)

	states := batch.States
	if len(req.TechnicianStates) == 0 && s.states != nil {
		loaded, err := s.states.List(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("读取技师状态失败，按无历史状态派单")
		} else {
			states = loaded
		}
	}

	opts := []dispatcher.Option{
		dispatcher.WithComparator(s.comparator(batch.LastIndex, len(techs))),
		dispatcher.WithResolver(fallback.NewResolver(s.dispatch.DefaultDurations)),
		dispatcher.WithLogger(logger.NewDispatchLoggerFrom(*log)),
		dispatcher.WithFlexibleCapacity(s.dispatch.ReserveFlexibleCapacity),
	}
	if s.observer != nil {
		opts = append(opts, dispatcher.WithObserver(s.observer))
	}

	sched, err := dispatcher.New(techs, states, batch.Rules, s.travel, opts...)
	if err != nil {
		appErr = errors.Wrap(err, errors.CodeInvalidInput, "기사 데이터가 올바르지 않습니다")
		return errorResponse(total, appErr), appErr
	}

	ctx = logger.ContextWithBatchID(ctx, sched.BatchID())
	result := sched.AssignJobs(ctx, batch.Jobs)

	detector := validator.NewConflictDetector(validator.ConfigFromRules(batch.Rules))
	for _, c := range detector.DetectAll(result.Assigned) {
		log.Error().
			Str("batch_id", result.BatchID).
			Str("type", string(c.Type)).
			Str("technician_id", c.TechnicianID).
			Strs("jobs", c.Jobs).
			Msg(c.Message)
	}

	batchStats := stats.NewAnalyzer(s.failMinutes).Analyze(result.Assigned, result.Failed, result.Deferred, sched.TechnicianIDs())
	next := result.NextOffset

	resp := &Response{
		MachineOutput: MachineOutput{
			Success:      true,
			BatchID:      result.BatchID,
			AssignedJobs: records(result.Assigned),
			FailedJobs:   records(result.Failed),
			DeferredJobs: records(result.Deferred),
			Summary: Summary{
				TotalJobs: result.Total(),
				Assigned:  len(result.Assigned),
				Failed:    len(result.Failed),
				Deferred:  len(result.Deferred),
			},
			SkippedTechnicians: batch.Skipped,
			Stats:              batchStats,
			NextIndex:          &next,
		},
		HumanMessage: report.HumanMessage(result.Assigned, result.Failed, result.Deferred, batch.Skipped),
	}

	s.persist(ctx, sched, resp)

	if err := s.publisher.Publish(ctx, resp.MachineOutput); err != nil {
		log.Warn().Err(err).Str("batch_id", result.BatchID).Msg("派单结果推送失败")
	}
	if s.recorder != nil {
		s.recorder.RecordBatch(result.Duration, batchStats.LoadGini)
	}

	return resp, nil
}

// persist 保存状态和结果，失败只记录日志
func (s *Service) persist(ctx context.Context, sched *dispatcher.Scheduler, resp *Response) {
	log := logger.WithContext(ctx)
	out := resp.MachineOutput

	if s.states != nil {
		if err := s.states.UpsertAll(ctx, sched.States()); err != nil {
			log.Error().Err(err).Str("batch_id", out.BatchID).Msg("保存技师状态失败")
		}
	}
	if s.history != nil {
		all := make([]model.AssignmentRecord, 0, out.Summary.TotalJobs)
		all = append(all, out.AssignedJobs...)
		all = append(all, out.FailedJobs...)
		all = append(all, out.DeferredJobs...)
		if err := s.history.SaveBatch(ctx, out.BatchID, all); err != nil {
			log.Error().Err(err).Str("batch_id", out.BatchID).Msg("保存派单结果失败")
		}
	}
}

func (s *Service) comparator(lastIndex, n int) matcher.Comparator {
	if s.dispatch.TieBreak == config.TieBreakRoundRobin {
		return matcher.RoundRobin{Offset: lastIndex, N: n, LoadPenalty: s.dispatch.LoadPenalty}
	}
	return matcher.NearestFirst{}
}

func records(list []*model.Assignment) []model.AssignmentRecord {
	out := make([]model.AssignmentRecord, 0, len(list))
	for _, a := range list {
		out = append(out, a.Record())
	}
	return out
}

func errorResponse(totalJobs int, err *errors.AppError) *Response {
	return &Response{
		MachineOutput: MachineOutput{
			Success:      false,
			Error:        err.Message,
			AssignedJobs: []model.AssignmentRecord{},
			FailedJobs:   []model.AssignmentRecord{},
			DeferredJobs: []model.AssignmentRecord{},
			Summary:      Summary{TotalJobs: totalJobs},
		},
		HumanMessage: "❌ 오류: " + err.Message,
	}
}
