// Package fit 判断技师能否在时间上接下某个作业
package fit

import (
	"math"

	"github.com/yk970217-wq/cleanbear/pkg/model"
)

// Result 检查结果
type Result struct {
	Fits   bool
	Score  float64 // 越小越好，等于路程时间
	Reason string  // 不适合时的原因

	// 以下字段仅在 Fits 为 true 时有效
	Interval     model.Interval // 固定作业为占用区间，弹性作业为时段窗口
	SpanMin      int            // 有效时长 + 缓冲
	EffectiveMin int            // 按技师系数调整后的作业时长
}

func reject(reason string) Result {
	return Result{Fits: false, Score: math.Inf(1), Reason: reason}
}

// Checker 时间适配检查器
type Checker struct {
	work            model.Interval
	buffer          int
	reserveCapacity bool
}

// Option 检查器选项
type Option func(*Checker)

// WithCapacityReservation 弹性作业按时段容量预留
func WithCapacityReservation(enabled bool) Option {
	return func(c *Checker) {
		c.reserveCapacity = enabled
	}
}

// NewChecker 创建检查器，规则非法时返回错误
func NewChecker(rules model.SystemRules, opts ...Option) (*Checker, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	work, _ := rules.WorkWindow()

	c := &Checker{
		work:            work,
		buffer:          rules.DefaultBufferMin,
		reserveCapacity: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WorkWindow 工作时间窗口
func (c *Checker) WorkWindow() model.Interval {
	return c.work
}

// EffectiveDuration 按技师服务系数调整后的时长
func EffectiveDuration(job *model.Job, tech *model.Technician) int {
	f := tech.FactorFor(job.ServiceType)
	if f == 1 {
		return job.DurationMin
	}
	return int(math.Round(float64(job.DurationMin) * f))
}

// Check 检查 ws 对应的技师能否接下 job
func (c *Checker) Check(ws *model.WorkingState, job *model.Job, travel float64) Result {
	if job.HasFixedStart() {
		return c.checkFixed(ws, job, travel)
	}
	return c.checkFlexible(ws, job, travel)
}

// checkFixed 固定时间作业
func (c *Checker) checkFixed(ws *model.WorkingState, job *model.Job, travel float64) Result {
	start, err := model.ParseClock(job.FixedStartTime)
	if err != nil {
		return reject(model.ReasonTimeFormatInvalid)
	}

	effective := EffectiveDuration(job, ws.Technician)
	span := effective + c.buffer
	iv := model.Interval{Start: start, End: start + span}

	if iv.End > c.work.End && !ws.Technician.OvertimeAllowed {
		return reject(model.ReasonOvertimeNotAllowed)
	}

	for _, existing := range ws.AssignmentsFor(job.Date) {
		if existing.IsFixed() && iv.Overlaps(existing.Interval) {
			return reject(model.ReasonTimeConflict)
		}
	}

	if c.reserveCapacity {
		if reason := c.checkFixedCapacity(ws, job.Date, iv); reason != "" {
			return reject(reason)
		}
	}

	// 只与产生当前位置的那次分配比较路程
	if last := ws.LastCommitted(); last != nil && last.Job.Date == job.Date && last.IsFixed() {
		if float64(last.Interval.End)+travel > float64(start) {
			return reject(model.ReasonTravelBufferShort)
		}
	}

	return Result{
		Fits:         true,
		Score:        travel,
		Interval:     iv,
		SpanMin:      span,
		EffectiveMin: effective,
	}
}

// checkFlexible 弹性时段作业
func (c *Checker) checkFlexible(ws *model.WorkingState, job *model.Job, travel float64) Result {
	slot, ok := model.ParseSlotType(string(job.SlotType))
	if !ok {
		slot = model.SlotAllDay
	}
	window := slot.Window(c.work)

	effective := EffectiveDuration(job, ws.Technician)
	span := effective + c.buffer
	if span > window.Width() {
		return reject(model.ReasonSlotTooSmall)
	}

	// 最晚开始的情况下是否超出下班时间
	latestStart := window.End - span
	if latestStart+span > c.work.End && !ws.Technician.OvertimeAllowed {
		return reject(model.ReasonOvertimeNotAllowed)
	}

	if c.reserveCapacity {
		if reason := c.checkCapacity(ws, job.Date, window, span); reason != "" {
			return reject(reason)
		}
	}

	return Result{
		Fits:         true,
		Score:        travel,
		Interval:     window,
		SpanMin:      span,
		EffectiveMin: effective,
	}
}

// checkCapacity 时段内已占用时间加上本作业不能超过时段长度
func (c *Checker) checkCapacity(ws *model.WorkingState, date string, window model.Interval, span int) string {
	existing := ws.AssignmentsFor(date)
	total := 0
	for _, a := range existing {
		total += a.SpanMin
	}

	if reservedIn(existing, window)+span > window.Width() {
		return model.ReasonSlotCapacityExceeded
	}
	if !ws.Technician.OvertimeAllowed && total+span > c.work.Width() {
		return model.ReasonSlotCapacityExceeded
	}
	return ""
}

// checkFixedCapacity 固定作业落入已有弹性作业的时段时，同样不能挤占预留时间
func (c *Checker) checkFixedCapacity(ws *model.WorkingState, date string, iv model.Interval) string {
	existing := ws.AssignmentsFor(date)
	for _, a := range existing {
		if a.IsFixed() {
			continue
		}
		used := a.Interval.Intersection(iv)
		if used == 0 {
			continue
		}
		if reservedIn(existing, a.Interval)+used > a.Interval.Width() {
			return model.ReasonSlotCapacityExceeded
		}
	}
	return ""
}

// reservedIn 窗口内已预留的分钟数
func reservedIn(assignments []*model.Assignment, window model.Interval) int {
	reserved := 0
	for _, a := range assignments {
		if a.IsFixed() {
			reserved += window.Intersection(a.Interval)
		} else if window.Contains(a.Interval) {
			reserved += a.SpanMin
		}
	}
	return reserved
}
