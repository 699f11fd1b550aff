package model

import "strings"

// SlotType 时间段类型（非固定时间作业使用）
type SlotType string

const (
	SlotMorning   SlotType = "MORNING"
	SlotAfternoon SlotType = "AFTERNOON"
	SlotAllDay    SlotType = "ALLDAY"
)

// ParseSlotType 解析时间段，大小写不敏感
func ParseSlotType(s string) (SlotType, bool) {
	switch SlotType(strings.ToUpper(strings.TrimSpace(s))) {
	case SlotMorning:
		return SlotMorning, true
	case SlotAfternoon:
		return SlotAfternoon, true
	case SlotAllDay:
		return SlotAllDay, true
	default:
		return "", false
	}
}

// Window 返回时间段在给定工作时间下的窗口
func (s SlotType) Window(work Interval) Interval {
	switch s {
	case SlotMorning:
		return Interval{Start: work.Start, End: Noon}
	case SlotAfternoon:
		return Interval{Start: Noon, End: work.End}
	default:
		return work
	}
}

// Job 作业（一次上门服务）
type Job struct {
	JobID         string    `json:"job_id"`
	ServiceType   string    `json:"service_type"`
	Location      Location  `json:"location"`
	StartLocation *Location `json:"start_location,omitempty"` // 出发位置，缺省时由技师状态补齐
	Date          string    `json:"date"`                     // YYYY-MM-DD
	DurationMin   int       `json:"duration_min"`

	TimeFixed       *bool    `json:"time_fixed,omitempty"`
	FixedStartTime  string   `json:"fixed_start_time,omitempty"` // HH:MM
	SlotType        SlotType `json:"slot_type,omitempty"`
	OvertimeAllowed *bool    `json:"overtime_allowed,omitempty"`

	// 诊断字段
	FallbackUsed    bool     `json:"fallback_used"`
	FallbackDetails []string `json:"fallback_details,omitempty"`
	ErrorReason     string   `json:"error_reason,omitempty"`
}

// IsTimeFixed 是否指定了固定开始时间
func (j *Job) IsTimeFixed() bool {
	return j.TimeFixed != nil && *j.TimeFixed
}

// HasFixedStart 固定时间且开始时间非空
func (j *Job) HasFixedStart() bool {
	return j.IsTimeFixed() && strings.TrimSpace(j.FixedStartTime) != ""
}

// Fail 记录失败原因，只保留第一个原因
func (j *Job) Fail(reason string) bool {
	if j.ErrorReason != "" {
		return false
	}
	j.ErrorReason = reason
	return true
}

// Failed 是否已有终止性失败原因
func (j *Job) Failed() bool {
	return j.ErrorReason != ""
}

// AddFallback 记录一次默认值补齐，重复的描述不会追加
func (j *Job) AddFallback(detail string) {
	j.FallbackUsed = true
	for _, d := range j.FallbackDetails {
		if d == detail {
			return
		}
	}
	j.FallbackDetails = append(j.FallbackDetails, detail)
}
