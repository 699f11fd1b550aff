// Package validator 提供派单结果核查功能
package validator

import (
	"fmt"
	"sort"

	"github.com/yk970217-wq/cleanbear/pkg/model"
)

// ConflictType 冲突类型
type ConflictType string

const (
	ConflictOverlap    ConflictType = "overlap"    // 固定时间重叠
	ConflictDayCap     ConflictType = "day_cap"    // 超过预约天数上限
	ConflictCapability ConflictType = "capability" // 技师不具备服务能力
	ConflictDayOff     ConflictType = "day_off"    // 休息日被派单
	ConflictOvertime   ConflictType = "overtime"   // 不可加班技师超出下班时间
)

// Conflict 冲突信息
type Conflict struct {
	Type         ConflictType `json:"type"`
	Severity     string       `json:"severity"` // error/warning
	TechnicianID string       `json:"technician_id"`
	Date         string       `json:"date,omitempty"`
	Message      string       `json:"message"`
	Jobs         []string     `json:"jobs,omitempty"` // 相关的作业ID
}

// ConflictDetector 冲突检测器
type ConflictDetector struct {
	config *DetectorConfig
}

// DetectorConfig 检测器配置
type DetectorConfig struct {
	MaxPreassignDays int // 每个技师最多的不同日期数
	WorkEndMin       int // 下班时间（分钟），0 表示不检查
}

// ConfigFromRules 从系统规则生成配置
func ConfigFromRules(rules model.SystemRules) *DetectorConfig {
	cfg := &DetectorConfig{MaxPreassignDays: rules.MaxPreassignDays}
	if work, err := rules.WorkWindow(); err == nil {
		cfg.WorkEndMin = work.End
	}
	return cfg
}

// NewConflictDetector 创建冲突检测器
func NewConflictDetector(config *DetectorConfig) *ConflictDetector {
	if config == nil {
		config = &DetectorConfig{}
	}
	return &ConflictDetector{config: config}
}

// DetectAll 检测所有冲突，结果按技师ID排序
func (d *ConflictDetector) DetectAll(assignments []*model.Assignment) []Conflict {
	var conflicts []Conflict

	// 按技师分组
	byTechnician := groupByTechnician(assignments)

	ids := make([]string, 0, len(byTechnician))
	for id := range byTechnician {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		techAssignments := byTechnician[id]

		conflicts = append(conflicts, d.detectOverlaps(id, techAssignments)...)
		conflicts = append(conflicts, d.detectDayCap(id, techAssignments)...)
		conflicts = append(conflicts, d.detectEligibility(id, techAssignments)...)
	}

	return conflicts
}

// detectOverlaps 检测同一天固定时间作业的重叠
func (d *ConflictDetector) detectOverlaps(techID string, assignments []*model.Assignment) []Conflict {
	var conflicts []Conflict

	byDate := make(map[string][]*model.Assignment)
	for _, a := range assignments {
		if a.IsFixed() {
			byDate[a.Job.Date] = append(byDate[a.Job.Date], a)
		}
	}

	for date, list := range byDate {
		// 按开始时间排序
		sorted := make([]*model.Assignment, len(list))
		copy(sorted, list)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].Interval.Start < sorted[j].Interval.Start
		})

		// 检测相邻作业的重叠
		for i := 0; i < len(sorted)-1; i++ {
			current := sorted[i]
			next := sorted[i+1]

			if current.Interval.Overlaps(next.Interval) {
				conflicts = append(conflicts, Conflict{
					Type:         ConflictOverlap,
					Severity:     "error",
					TechnicianID: techID,
					Date:         date,
					Message:      fmt.Sprintf("技师 %s 在 %s 的作业 %s 与 %s 时间重叠", techID, date, current.Interval, next.Interval),
					Jobs:         []string{current.Job.JobID, next.Job.JobID},
				})
			}
		}
	}

	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Date < conflicts[j].Date })
	return conflicts
}

// detectDayCap 检测预约天数
func (d *ConflictDetector) detectDayCap(techID string, assignments []*model.Assignment) []Conflict {
	if d.config.MaxPreassignDays <= 0 {
		return nil
	}

	dates := make(map[string]bool)
	for _, a := range assignments {
		dates[a.Job.Date] = true
	}

	if len(dates) > d.config.MaxPreassignDays {
		return []Conflict{{
			Type:         ConflictDayCap,
			Severity:     "error",
			TechnicianID: techID,
			Message:      fmt.Sprintf("技师 %s 被预约 %d 天，超过限制 %d 天", techID, len(dates), d.config.MaxPreassignDays),
		}}
	}
	return nil
}

// detectEligibility 检测能力、休息日和加班
func (d *ConflictDetector) detectEligibility(techID string, assignments []*model.Assignment) []Conflict {
	var conflicts []Conflict

	for _, a := range assignments {
		tech := a.Technician
		job := a.Job

		if !tech.CanHandleService(job.ServiceType) {
			conflicts = append(conflicts, Conflict{
				Type:         ConflictCapability,
				Severity:     "error",
				TechnicianID: techID,
				Date:         job.Date,
				Message:      fmt.Sprintf("技师 %s 不能处理服务 %s", techID, job.ServiceType),
				Jobs:         []string{job.JobID},
			})
		}

		if tech.IsOff(job.Date) {
			conflicts = append(conflicts, Conflict{
				Type:         ConflictDayOff,
				Severity:     "error",
				TechnicianID: techID,
				Date:         job.Date,
				Message:      fmt.Sprintf("技师 %s 在 %s 休息", techID, job.Date),
				Jobs:         []string{job.JobID},
			})
		}

		if d.config.WorkEndMin > 0 && a.IsFixed() && !tech.OvertimeAllowed && a.Interval.End > d.config.WorkEndMin {
			conflicts = append(conflicts, Conflict{
				Type:         ConflictOvertime,
				Severity:     "error",
				TechnicianID: techID,
				Date:         job.Date,
				Message:      fmt.Sprintf("技师 %s 不可加班，作业结束于 %s", techID, a.EndTime),
				Jobs:         []string{job.JobID},
			})
		}
	}

	return conflicts
}

// groupByTechnician 按技师分组，跳过失败和延后的占位分配
func groupByTechnician(assignments []*model.Assignment) map[string][]*model.Assignment {
	result := make(map[string][]*model.Assignment)
	for _, a := range assignments {
		if a == nil || a.Technician == nil || a.Technician.IsPlaceholder() {
			continue
		}
		id := a.Technician.TechnicianID
		result[id] = append(result[id], a)
	}
	return result
}
