package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Noon 正午（分钟）
const Noon = 12 * 60

// ParseClock 将 HH:MM 解析为从零点起的分钟数，分钟部分可省略
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("时间为空")
	}

	parts := strings.Split(s, ":")
	if len(parts) > 2 {
		return 0, fmt.Errorf("时间格式错误: %q", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("时间格式错误: %q", s)
	}
	minute := 0
	if len(parts) == 2 {
		minute, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, fmt.Errorf("时间格式错误: %q", s)
		}
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("时间超出范围: %q", s)
	}
	return hour*60 + minute, nil
}

// FormatClock 将分钟数格式化为 HH:MM，超过 24 点不回绕
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Interval 半开区间 [Start, End)，单位分钟
type Interval struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Width 区间长度
func (iv Interval) Width() int {
	return iv.End - iv.Start
}

// Overlaps 检查两个区间是否重叠，端点相接不算重叠
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start < other.End && other.Start < iv.End
}

// Contains 检查 other 是否完全落在区间内
func (iv Interval) Contains(other Interval) bool {
	return other.Start >= iv.Start && other.End <= iv.End
}

// Intersection 返回两个区间重叠部分的长度
func (iv Interval) Intersection(other Interval) int {
	start := max(iv.Start, other.Start)
	end := min(iv.End, other.End)
	if end <= start {
		return 0
	}
	return end - start
}

// String 以 HH:MM-HH:MM 形式输出
func (iv Interval) String() string {
	return FormatClock(iv.Start) + "-" + FormatClock(iv.End)
}
