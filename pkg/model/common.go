// Package model 定义派单引擎的核心数据模型
package model

import (
	"math"
	"strings"
)

// Location 地理位置
type Location struct {
	Address   string  `json:"address,omitempty" db:"address"`
	Latitude  float64 `json:"lat" db:"lat"`
	Longitude float64 `json:"lng" db:"lng"`
}

// HasCoordinates 是否带有坐标
func (l Location) HasCoordinates() bool {
	return l.Latitude != 0 || l.Longitude != 0
}

// IsZero 既无坐标也无地址
func (l Location) IsZero() bool {
	return !l.HasCoordinates() && strings.TrimSpace(l.Address) == ""
}

// Distance 计算两个位置之间的距离（公里）
// 使用 Haversine 公式
func (l Location) Distance(other Location) float64 {
	const earthRadius = 6371.0 // 地球半径（公里）

	lat1Rad := l.Latitude * math.Pi / 180
	lat2Rad := other.Latitude * math.Pi / 180
	deltaLat := (other.Latitude - l.Latitude) * math.Pi / 180
	deltaLon := (other.Longitude - l.Longitude) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

// DateLayout 作业日期格式
const DateLayout = "2006-01-02"
