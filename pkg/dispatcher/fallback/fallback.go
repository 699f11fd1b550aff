// Package fallback 补齐作业缺失字段
//
// 每条规则只在字段缺失或无效时生效，规则顺序固定。
// 服务类型缺失或时长无法补齐时作业直接失败，不进入候选匹配。
package fallback

import (
	"fmt"
	"slices"
	"strings"

	"github.com/yk970217-wq/cleanbear/pkg/model"
)

// 补齐记录
const (
	DetailDuration     = "duration_minutes: default_duration"
	DetailLastLocation = "current_location: last_location"
	DetailHome         = "current_location: home_address"
	DetailSlotAllDay   = "slot_type: ALLDAY"
	DetailOvertimeOff  = "overtime_allowed: false"
)

// DurationTable 服务类型默认时长（分钟）
type DurationTable map[string]int

// DefaultDurations 默认时长表
func DefaultDurations() DurationTable {
	return DurationTable{
		"입주청소":  180,
		"이사청소":  180,
		"에어컨청소": 120,
		"청소청소":  150,
	}
}

// Lookup 查询默认时长
func (t DurationTable) Lookup(serviceType string) (int, bool) {
	d, ok := t[serviceType]
	return d, ok && d > 0
}

// Resolver 缺失字段补齐器
type Resolver struct {
	durations DurationTable
}

// NewResolver 创建补齐器，durations 为空时使用默认表
func NewResolver(durations DurationTable) *Resolver {
	if len(durations) == 0 {
		durations = DefaultDurations()
	}
	return &Resolver{durations: durations}
}

// Prepare 匹配前补齐：服务类型、时长、固定时间、时段
// 返回 false 表示作业不可调度，原因已写入 ErrorReason
func (r *Resolver) Prepare(job *model.Job) bool {
	if job.Failed() {
		return false
	}

	// 1. 服务类型，没有默认值
	if strings.TrimSpace(job.ServiceType) == "" {
		r.fail(job, model.ReasonServiceTypeMissing)
		return false
	}

	// 2. 时长
	if job.DurationMin <= 0 {
		d, ok := r.durations.Lookup(job.ServiceType)
		if !ok {
			r.fail(job, model.ReasonDurationMissing)
			return false
		}
		job.DurationMin = d
		job.AddFallback(DetailDuration)
	}

	// 4. 固定时间但缺少开始时间
	if job.IsTimeFixed() && !job.HasFixedStart() {
		r.fail(job, model.ReasonFixedTimeMissing)
		return false
	}
	if !job.IsTimeFixed() {
		job.FixedStartTime = ""
	}

	// 5. 时段
	if slot, ok := model.ParseSlotType(string(job.SlotType)); ok {
		job.SlotType = slot
	} else {
		job.SlotType = model.SlotAllDay
		job.AddFallback(DetailSlotAllDay)
	}

	return true
}

// Resolve 带技师上下文的完整补齐，在选定技师后调用
func (r *Resolver) Resolve(job *model.Job, ws *model.WorkingState) bool {
	if !r.Prepare(job) {
		return false
	}

	// 3. 出发位置，记录排在时段补齐之前
	if job.StartLocation == nil || job.StartLocation.IsZero() {
		if ws != nil {
			loc, detail := startLocation(ws)
			job.StartLocation = &loc
			addFallbackBefore(job, detail, DetailSlotAllDay)
		}
	}

	// 6. 加班意向
	if job.OvertimeAllowed == nil {
		allowed := false
		detail := DetailOvertimeOff
		if ws != nil {
			allowed = ws.Technician.OvertimeAllowed
			detail = fmt.Sprintf("overtime_allowed: technician (%t)", allowed)
		}
		job.OvertimeAllowed = &allowed
		job.AddFallback(detail)
	}

	return true
}

// Origin 技师当前出发位置：上一个位置 > 家
// 作业自带的出发位置只用于补齐记录，不参与路程计算
func Origin(ws *model.WorkingState) model.Location {
	loc, _ := startLocation(ws)
	return loc
}

func startLocation(ws *model.WorkingState) (model.Location, string) {
	if !ws.CurrentLocation.IsZero() && ws.CurrentLocation != ws.Technician.Home {
		return ws.CurrentLocation, DetailLastLocation
	}
	return ws.Technician.Home, DetailHome
}

// addFallbackBefore 插入到 before 之前，before 不存在时追加
func addFallbackBefore(job *model.Job, detail, before string) {
	idx := slices.Index(job.FallbackDetails, before)
	if idx < 0 || slices.Contains(job.FallbackDetails, detail) {
		job.AddFallback(detail)
		return
	}
	job.FallbackUsed = true
	job.FallbackDetails = slices.Insert(job.FallbackDetails, idx, detail)
}

func (r *Resolver) fail(job *model.Job, reason string) {
	job.Fail(reason)
	job.AddFallback(reason)
}
