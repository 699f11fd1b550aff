package model

import "fmt"

// SystemRules 系统运营规则，单次批量派单内不可变
type SystemRules struct {
	WorkStart        string `json:"work_start" validate:"required"`
	WorkEnd          string `json:"work_end" validate:"required"`
	MaxPreassignDays int    `json:"max_preassign_days" validate:"min=1"`
	DefaultBufferMin int    `json:"default_buffer_min" validate:"min=0"`
}

// WorkWindow 解析工作时间窗口
func (r SystemRules) WorkWindow() (Interval, error) {
	start, err := ParseClock(r.WorkStart)
	if err != nil {
		return Interval{}, fmt.Errorf("work_start: %w", err)
	}
	end, err := ParseClock(r.WorkEnd)
	if err != nil {
		return Interval{}, fmt.Errorf("work_end: %w", err)
	}
	if start >= end {
		return Interval{}, fmt.Errorf("work_start %s 必须早于 work_end %s", r.WorkStart, r.WorkEnd)
	}
	return Interval{Start: start, End: end}, nil
}

// Validate 校验规则
func (r SystemRules) Validate() error {
	if _, err := r.WorkWindow(); err != nil {
		return err
	}
	if r.MaxPreassignDays < 1 {
		return fmt.Errorf("max_preassign_days 必须 >= 1，当前 %d", r.MaxPreassignDays)
	}
	if r.DefaultBufferMin < 0 {
		return fmt.Errorf("default_buffer_min 不能为负数，当前 %d", r.DefaultBufferMin)
	}
	return nil
}
