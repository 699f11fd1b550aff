package model

import "math"

// AssignmentStatus 分配状态
type AssignmentStatus string

const (
	StatusAssigned      AssignmentStatus = "assigned"       // 固定时间，已排定起止时间
	StatusTimeUndefined AssignmentStatus = "time_undefined" // 弹性时段，具体时间待人工确认
	StatusFailed        AssignmentStatus = "failed"
	StatusDeferred      AssignmentStatus = "deferred" // 超出预约天数上限，留待下一轮
)

// 输出备注
const (
	MemoTimeUndefined    = "시간 미정 - 전날 통화 조율"
	MemoMaxPreassignDays = "MAX_PREASSIGN_DAYS_EXCEEDED"
	TimeStatusFixed      = "fixed"
	TimeStatusUndefined  = "undefined"
)

// Assignment 作业与技师的绑定
type Assignment struct {
	Job           *Job
	Technician    *Technician
	Status        AssignmentStatus
	StartTime     string  // HH:MM，仅固定时间作业
	EndTime       string  // HH:MM，仅固定时间作业
	TravelMinutes float64 // 路程时间
	Memo          string

	// 调度内部使用
	Interval     Interval // 固定作业为实际占用区间，弹性作业为时段窗口
	SpanMin      int      // 作业时长（含系数）+ 缓冲
	EffectiveMin int      // 作业时长（含系数）
}

// NewFailedAssignment 失败分配，绑定占位技师
func NewFailedAssignment(job *Job) *Assignment {
	return &Assignment{
		Job:        job,
		Technician: PlaceholderTechnician(),
		Status:     StatusFailed,
		Memo:       job.ErrorReason,
	}
}

// NewDeferredAssignment 延后分配，绑定占位技师，不记录失败原因
func NewDeferredAssignment(job *Job) *Assignment {
	return &Assignment{
		Job:        job,
		Technician: PlaceholderTechnician(),
		Status:     StatusDeferred,
		Memo:       MemoMaxPreassignDays,
	}
}

// IsFixed 是否有具体起止时间
func (a *Assignment) IsFixed() bool {
	return a.StartTime != "" && a.EndTime != ""
}

// AssignmentRecord 对外输出的扁平记录
type AssignmentRecord struct {
	JobID             string   `json:"job_id"`
	TechnicianID      string   `json:"technician_id"`
	Date              string   `json:"date"`
	ServiceType       string   `json:"service_type"`
	Lat               float64  `json:"lat"`
	Lng               float64  `json:"lng"`
	DurationMin       int      `json:"duration_min"`
	TravelTimeMinutes float64  `json:"travel_time_minutes"`
	Status            string   `json:"status"`
	FallbackUsed      bool     `json:"fallback_used"`
	FallbackDetails   []string `json:"fallback_details"`
	ErrorReason       string   `json:"error_reason,omitempty"`
	StartTime         *string  `json:"start_time"`
	EndTime           *string  `json:"end_time"`
	TimeStatus        string   `json:"time_status"`
	Memo              string   `json:"memo,omitempty"`
}

// Record 转换为输出记录
func (a *Assignment) Record() AssignmentRecord {
	j := a.Job
	rec := AssignmentRecord{
		JobID:             j.JobID,
		TechnicianID:      a.Technician.TechnicianID,
		Date:              j.Date,
		ServiceType:       j.ServiceType,
		Lat:               j.Location.Latitude,
		Lng:               j.Location.Longitude,
		DurationMin:       j.DurationMin,
		TravelTimeMinutes: math.Round(a.TravelMinutes*10) / 10,
		Status:            string(a.Status),
		FallbackUsed:      j.FallbackUsed,
		FallbackDetails:   append([]string{}, j.FallbackDetails...),
		ErrorReason:       j.ErrorReason,
	}

	if j.IsTimeFixed() {
		if a.StartTime != "" {
			start, end := a.StartTime, a.EndTime
			rec.StartTime, rec.EndTime = &start, &end
		}
		rec.TimeStatus = TimeStatusFixed
	} else {
		rec.TimeStatus = TimeStatusUndefined
		if a.Status != StatusFailed && a.Status != StatusDeferred {
			rec.Memo = MemoTimeUndefined
		}
	}

	if a.Memo != "" {
		if rec.Memo != "" {
			rec.Memo = a.Memo + " / " + rec.Memo
		} else {
			rec.Memo = a.Memo
		}
	}
	return rec
}
