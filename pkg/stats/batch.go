// Package stats 提供派单统计分析功能
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/yk970217-wq/cleanbear/pkg/model"
)

// BatchStats 批次统计
type BatchStats struct {
	TotalJobs      int     `json:"total_jobs"`
	Assigned       int     `json:"assigned"`
	Failed         int     `json:"failed"`
	Deferred       int     `json:"deferred"`
	AssignmentRate float64 `json:"assignment_rate"` // 已分配 / 总数

	// 路程
	AvgTravelMinutes float64 `json:"avg_travel_minutes"`
	TravelStdDev     float64 `json:"travel_std_dev"`
	MaxTravelMinutes float64 `json:"max_travel_minutes"`
	UnreachedRoutes  int     `json:"unreached_routes"` // 路程查询失败的分配

	// 负载公平性
	LoadGini      float64 `json:"load_gini"` // 0=完全平均
	LoadStdDev    float64 `json:"load_std_dev"`
	FairnessScore float64 `json:"fairness_score"` // 0-100

	FailureReasons map[string]int   `json:"failure_reasons,omitempty"`
	Technicians    []TechnicianStat `json:"technicians"`
}

// TechnicianStat 技师统计
type TechnicianStat struct {
	TechnicianID  string  `json:"technician_id"`
	Jobs          int     `json:"jobs"`
	Days          int     `json:"days"`
	WorkMinutes   int     `json:"work_minutes"` // 含系数的作业时长
	TravelMinutes float64 `json:"travel_minutes"`
	Deviation     float64 `json:"deviation"` // 与人均作业数的偏差百分比
}

// Analyzer 批次统计分析器
type Analyzer struct {
	failMinutes float64 // 不小于该值的路程视为查询失败
}

// NewAnalyzer 创建分析器
func NewAnalyzer(failMinutes float64) *Analyzer {
	if failMinutes <= 0 {
		failMinutes = 9999
	}
	return &Analyzer{failMinutes: failMinutes}
}

// Analyze 统计批次结果；technicianIDs 为名册，用于计入未接单的技师
func (a *Analyzer) Analyze(assigned, failed, deferred []*model.Assignment, technicianIDs []string) *BatchStats {
	s := &BatchStats{
		Assigned:       len(assigned),
		Failed:         len(failed),
		Deferred:       len(deferred),
		FailureReasons: make(map[string]int),
	}
	s.TotalJobs = s.Assigned + s.Failed + s.Deferred
	if s.TotalJobs > 0 {
		s.AssignmentRate = round2(float64(s.Assigned) / float64(s.TotalJobs))
	}

	for _, f := range failed {
		s.FailureReasons[f.Job.ErrorReason]++
	}

	s.Technicians = a.technicianStats(assigned, technicianIDs)

	// 路程统计，查询失败的不计入
	travels := make([]float64, 0, len(assigned))
	for _, asg := range assigned {
		if asg.TravelMinutes >= a.failMinutes {
			s.UnreachedRoutes++
			continue
		}
		travels = append(travels, asg.TravelMinutes)
		s.MaxTravelMinutes = math.Max(s.MaxTravelMinutes, asg.TravelMinutes)
	}
	if len(travels) > 0 {
		mean, std := stat.MeanStdDev(travels, nil)
		s.AvgTravelMinutes = round2(mean)
		if len(travels) > 1 {
			s.TravelStdDev = round2(std)
		}
	}

	// 负载统计
	loads := make([]float64, 0, len(s.Technicians))
	for _, ts := range s.Technicians {
		loads = append(loads, float64(ts.Jobs))
	}
	if len(loads) > 0 {
		mean := stat.Mean(loads, nil)
		if len(loads) > 1 {
			s.LoadStdDev = round2(stat.PopStdDev(loads, nil))
		}
		for i := range s.Technicians {
			if mean > 0 {
				s.Technicians[i].Deviation = round2((float64(s.Technicians[i].Jobs) - mean) / mean * 100)
			}
		}
	}
	s.LoadGini = round2(gini(loads))
	s.FairnessScore = round2((1 - s.LoadGini) * 100)

	return s
}

// technicianStats 按技师汇总，按作业数降序，相同时按ID
func (a *Analyzer) technicianStats(assigned []*model.Assignment, technicianIDs []string) []TechnicianStat {
	statMap := make(map[string]*TechnicianStat, len(technicianIDs))
	days := make(map[string]map[string]bool)
	for _, id := range technicianIDs {
		statMap[id] = &TechnicianStat{TechnicianID: id}
	}

	for _, asg := range assigned {
		id := asg.Technician.TechnicianID
		ts, ok := statMap[id]
		if !ok {
			ts = &TechnicianStat{TechnicianID: id}
			statMap[id] = ts
		}
		ts.Jobs++
		ts.WorkMinutes += asg.EffectiveMin
		if asg.TravelMinutes < a.failMinutes {
			ts.TravelMinutes = round2(ts.TravelMinutes + asg.TravelMinutes)
		}
		if days[id] == nil {
			days[id] = make(map[string]bool)
		}
		days[id][asg.Job.Date] = true
	}

	result := make([]TechnicianStat, 0, len(statMap))
	for id, ts := range statMap {
		ts.Days = len(days[id])
		result = append(result, *ts)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Jobs != result[j].Jobs {
			return result[i].Jobs > result[j].Jobs
		}
		return result[i].TechnicianID < result[j].TechnicianID
	})
	return result
}

// gini 计算基尼系数
func gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	// 排序
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	if sum == 0 {
		return 0
	}

	g := 0.0
	for i, v := range sorted {
		g += (2*float64(i+1) - float64(n) - 1) * v
	}

	g = g / (float64(n) * sum)
	return math.Max(0, math.Min(1, g))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
