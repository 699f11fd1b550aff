package model

import (
	"fmt"
	"strings"
	"time"
)

// FailedTechnicianID 失败分配使用的占位技师ID
const FailedTechnicianID = "FAILED"

// Technician 技师
type Technician struct {
	TechnicianID    string             `json:"technician_id" db:"technician_id"`
	Name            string             `json:"name,omitempty" db:"name"`
	Home            Location           `json:"home"`
	ServiceTypes    []string           `json:"service_types"`
	OvertimeAllowed bool               `json:"overtime_allowed" db:"overtime_allowed"`
	ServiceFactors  map[string]float64 `json:"service_factors,omitempty"` // 服务类型 -> 作业时长系数
	DaysOff         []string           `json:"days_off,omitempty"`        // YYYY-MM-DD
}

// PlaceholderTechnician 失败分配的占位技师：无能力、无位置，不属于名册
func PlaceholderTechnician() *Technician {
	return &Technician{TechnicianID: FailedTechnicianID}
}

// IsPlaceholder 是否为占位技师
func (t *Technician) IsPlaceholder() bool {
	return t.TechnicianID == FailedTechnicianID
}

// CanHandleService 检查技师能否处理某服务
func (t *Technician) CanHandleService(serviceType string) bool {
	for _, s := range t.ServiceTypes {
		if s == serviceType {
			return true
		}
	}
	return false
}

// IsOff 检查技师当天是否休息
func (t *Technician) IsOff(date string) bool {
	for _, d := range t.DaysOff {
		if d == date {
			return true
		}
	}
	return false
}

// FactorFor 返回服务时长系数，未配置时为 1
func (t *Technician) FactorFor(serviceType string) float64 {
	if f, ok := t.ServiceFactors[serviceType]; ok && f > 0 {
		return f
	}
	return 1
}

// ValidateFactors 系数必须为正数
func (t *Technician) ValidateFactors() error {
	for service, f := range t.ServiceFactors {
		if strings.TrimSpace(service) == "" {
			return fmt.Errorf("service_factors 含空服务类型")
		}
		if f <= 0 {
			return fmt.Errorf("service_factors[%s] 必须为正数，当前 %v", service, f)
		}
	}
	return nil
}

// Clone 深拷贝
func (t *Technician) Clone() *Technician {
	c := *t
	c.ServiceTypes = append([]string(nil), t.ServiceTypes...)
	c.DaysOff = append([]string(nil), t.DaysOff...)
	if t.ServiceFactors != nil {
		c.ServiceFactors = make(map[string]float64, len(t.ServiceFactors))
		for k, v := range t.ServiceFactors {
			c.ServiceFactors[k] = v
		}
	}
	return &c
}

// TechnicianState 上一批次结束时的技师状态（外部提供，可选）
type TechnicianState struct {
	TechnicianID string    `json:"technician_id" db:"technician_id"`
	LastLocation *Location `json:"last_location,omitempty"`
	LastEndTime  string    `json:"last_end_time,omitempty" db:"last_end_time"`
}

var lastEndLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseLastEndTime 解析 last_end_time，返回日期（可能为空）和 HH:MM
func ParseLastEndTime(s string) (date, clock string, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", nil
	}
	for _, layout := range lastEndLayouts {
		if t, perr := time.Parse(layout, s); perr == nil {
			return t.Format(DateLayout), t.Format("15:04"), nil
		}
	}
	if m, perr := ParseClock(s); perr == nil {
		return "", FormatClock(m), nil
	}
	return "", "", fmt.Errorf("无法解析 last_end_time: %q", s)
}

// SkippedTechnician 因缺少必填字段未参与派单的技师
type SkippedTechnician struct {
	TechnicianID  string   `json:"technician_id"`
	Reason        string   `json:"reason"`
	MissingFields []string `json:"missing_fields,omitempty"`
}
