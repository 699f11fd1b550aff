package dispatcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yk970217-wq/cleanbear/pkg/dispatcher/fallback"
	"github.com/yk970217-wq/cleanbear/pkg/dispatcher/matcher"
	"github.com/yk970217-wq/cleanbear/pkg/model"
	"github.com/yk970217-wq/cleanbear/pkg/validator"
)

var testRules = model.SystemRules{
	WorkStart:        "09:00",
	WorkEnd:          "18:00",
	MaxPreassignDays: 3,
	DefaultBufferMin: 30,
}

// travelFunc 测试用路程时间
type travelFunc func(from, to model.Location) float64

func (f travelFunc) TravelMinutes(_ context.Context, from, to model.Location) float64 {
	return f(from, to)
}

// constTravel 固定路程时间
func constTravel(minutes float64) TravelTimer {
	return travelFunc(func(_, _ model.Location) float64 { return minutes })
}

// byHome 按出发位置返回不同路程
func byHome(minutes map[float64]float64) TravelTimer {
	return travelFunc(func(from, _ model.Location) float64 {
		if m, ok := minutes[from.Latitude]; ok {
			return m
		}
		return 9999
	})
}

type recordingObserver struct {
	statuses   []model.AssignmentStatus
	rejections []string
}

func (o *recordingObserver) JobClassified(s model.AssignmentStatus) {
	o.statuses = append(o.statuses, s)
}
func (o *recordingObserver) FitRejected(r string) { o.rejections = append(o.rejections, r) }

func boolPtr(b bool) *bool { return &b }

func tech(id string, lat float64, overtime bool, services ...string) *model.Technician {
	return &model.Technician{
		TechnicianID:    id,
		Home:            model.Location{Latitude: lat, Longitude: 127.0},
		ServiceTypes:    services,
		OvertimeAllowed: overtime,
	}
}

func fixed(id, date, start string, duration int) *model.Job {
	return &model.Job{
		JobID:          id,
		ServiceType:    "aircon",
		Location:       model.Location{Latitude: 37.55, Longitude: 127.05},
		Date:           date,
		DurationMin:    duration,
		TimeFixed:      boolPtr(true),
		FixedStartTime: start,
		SlotType:       model.SlotAllDay,
	}
}

func flexible(id, date string, slot model.SlotType, duration int) *model.Job {
	return &model.Job{
		JobID:       id,
		ServiceType: "aircon",
		Location:    model.Location{Latitude: 37.55, Longitude: 127.05},
		Date:        date,
		DurationMin: duration,
		SlotType:    slot,
	}
}

func newScheduler(t *testing.T, techs []*model.Technician, rules model.SystemRules, travel TravelTimer, opts ...Option) *Scheduler {
	t.Helper()
	s, err := New(techs, nil, rules, travel, opts...)
	require.NoError(t, err)
	return s
}

func jobIDs(as []*model.Assignment) []string {
	ids := make([]string, 0, len(as))
	for _, a := range as {
		ids = append(ids, a.Job.JobID)
	}
	return ids
}

func TestNew(t *testing.T) {
	t.Run("规则无效", func(t *testing.T) {
		_, err := New(nil, nil, model.SystemRules{WorkStart: "x", WorkEnd: "18:00", MaxPreassignDays: 1}, constTravel(0))
		assert.Error(t, err)
	})

	t.Run("缺少路程服务", func(t *testing.T) {
		_, err := New(nil, nil, testRules, nil)
		assert.Error(t, err)
	})

	t.Run("技师ID重复", func(t *testing.T) {
		_, err := New([]*model.Technician{tech("A", 37.5, false), tech("A", 37.6, false)}, nil, testRules, constTravel(0))
		assert.Error(t, err)
	})

	t.Run("名册被复制", func(t *testing.T) {
		a := tech("A", 37.5, false, "aircon")
		s := newScheduler(t, []*model.Technician{a}, testRules, constTravel(0))
		a.ServiceTypes[0] = "changed"

		ws, ok := s.WorkingState("A")
		require.True(t, ok)
		assert.True(t, ws.Technician.CanHandleService("aircon"))
	})

	t.Run("历史状态初始化", func(t *testing.T) {
		last := model.Location{Latitude: 37.7, Longitude: 127.1}
		states := []model.TechnicianState{
			{TechnicianID: "A", LastLocation: &last, LastEndTime: "2026-01-09 17:00"},
			{TechnicianID: "B", LastEndTime: "not a time"},
			{LastEndTime: "2026-01-09 17:00"},
		}
		s, err := New([]*model.Technician{tech("A", 37.5, false), tech("B", 37.6, false)}, states, testRules, constTravel(0))
		require.NoError(t, err)

		a, _ := s.WorkingState("A")
		assert.Equal(t, last, a.CurrentLocation)
		assert.Equal(t, "17:00", a.LastWorkEndTime)
		assert.Equal(t, "2026-01-09", a.LastWorkDate)

		b, _ := s.WorkingState("B")
		assert.Equal(t, "", b.LastWorkEndTime)
		assert.Equal(t, 37.6, b.CurrentLocation.Latitude)
	})
}

func TestAssignJobs_FixedConflict(t *testing.T) {
	s := newScheduler(t, []*model.Technician{tech("A", 37.5, false, "aircon")}, testRules, constTravel(10))

	j1 := fixed("J1", "2026-01-10", "09:00", 120)
	j2 := fixed("J2", "2026-01-10", "11:00", 120)
	result := s.AssignJobs(context.Background(), []*model.Job{j1, j2})

	require.Len(t, result.Assigned, 1)
	a := result.Assigned[0]
	assert.Equal(t, "A", a.Technician.TechnicianID)
	assert.Equal(t, model.StatusAssigned, a.Status)
	assert.Equal(t, "09:00", a.StartTime)
	assert.Equal(t, "11:30", a.EndTime)

	require.Len(t, result.Failed, 1)
	assert.Equal(t, "J2", result.Failed[0].Job.JobID)
	assert.Equal(t, model.ReasonTimeConflict, j2.ErrorReason)
	assert.Equal(t, model.FailedTechnicianID, result.Failed[0].Technician.TechnicianID)

	ws, _ := s.WorkingState("A")
	assert.Equal(t, 1, ws.AssignmentCount(), "失败作业不计入技师状态")
	assert.Equal(t, "11:30", ws.LastWorkEndTime)
}

func TestAssignJobs_SlotTooSmall(t *testing.T) {
	techs := []*model.Technician{tech("A", 37.5, true, "aircon"), tech("B", 37.6, false, "aircon")}
	s := newScheduler(t, techs, testRules, constTravel(0))

	j3 := flexible("J3", "2026-01-10", model.SlotAfternoon, 400)
	result := s.AssignJobs(context.Background(), []*model.Job{j3})

	require.Len(t, result.Failed, 1)
	assert.Equal(t, model.ReasonSlotTooSmall, j3.ErrorReason)
}

func TestAssignJobs_DayCap(t *testing.T) {
	rules := testRules
	rules.MaxPreassignDays = 1
	s := newScheduler(t, []*model.Technician{tech("B", 37.5, false, "aircon")}, rules, constTravel(0))

	first := flexible("J1", "2026-01-10", model.SlotMorning, 60)
	sameDay := flexible("J2", "2026-01-10", model.SlotAfternoon, 60)
	earlier := flexible("J3", "2026-01-09", model.SlotAfternoon, 60)
	later := flexible("J4", "2026-01-11", model.SlotAfternoon, 60)

	result := s.AssignJobs(context.Background(), []*model.Job{first, sameDay, earlier, later})

	assert.Equal(t, []string{"J1", "J4"}, jobIDs(result.Assigned))
	assert.Equal(t, []string{"J2", "J3"}, jobIDs(result.Deferred))
	assert.Empty(t, result.Failed)
	for _, d := range result.Deferred {
		assert.Empty(t, d.Job.ErrorReason, "延后不记录失败原因")
		assert.Equal(t, model.StatusDeferred, d.Status)
		assert.Equal(t, model.MemoMaxPreassignDays, d.Memo)
	}
}

func TestAssignJobs_Overtime(t *testing.T) {
	late := func(id string) *model.Job { return fixed(id, "2026-01-10", "16:00", 120) }

	t.Run("不可加班全部拒绝", func(t *testing.T) {
		s := newScheduler(t, []*model.Technician{tech("A", 37.5, false, "aircon"), tech("B", 37.6, false, "aircon")}, testRules, constTravel(5))
		j := late("J1")
		result := s.AssignJobs(context.Background(), []*model.Job{j})
		require.Len(t, result.Failed, 1)
		assert.Equal(t, model.ReasonOvertimeNotAllowed, j.ErrorReason)
	})

	t.Run("可加班技师接单", func(t *testing.T) {
		s := newScheduler(t, []*model.Technician{tech("A", 37.5, false, "aircon"), tech("B", 37.6, true, "aircon")}, testRules, constTravel(5))
		j := late("J1")
		result := s.AssignJobs(context.Background(), []*model.Job{j})
		require.Len(t, result.Assigned, 1)
		assert.Equal(t, "B", result.Assigned[0].Technician.TechnicianID)
		assert.Equal(t, 5.0, result.Assigned[0].TravelMinutes)
		assert.Empty(t, j.ErrorReason, "有技师接单时不暴露拒绝原因")
	})
}

func TestAssignJobs_NearestWins(t *testing.T) {
	techs := []*model.Technician{
		tech("far", 37.1, false, "aircon"),
		tech("near", 37.2, false, "aircon"),
		tech("tie", 37.3, false, "aircon"),
	}
	s := newScheduler(t, techs, testRules, byHome(map[float64]float64{37.1: 40, 37.2: 10, 37.3: 10}))

	result := s.AssignJobs(context.Background(), []*model.Job{flexible("J1", "2026-01-10", model.SlotAllDay, 60)})
	require.Len(t, result.Assigned, 1)
	assert.Equal(t, "near", result.Assigned[0].Technician.TechnicianID, "得分相同先评估的胜出")
	assert.Equal(t, model.StatusTimeUndefined, result.Assigned[0].Status)
	assert.Empty(t, result.Assigned[0].StartTime)
	assert.Equal(t, 1, result.NextOffset)
}

func TestAssignJobs_JobStartLocationKeepsNearest(t *testing.T) {
	techs := []*model.Technician{
		tech("A", 37.1, false, "aircon"),
		tech("B", 37.2, false, "aircon"),
	}
	s := newScheduler(t, techs, testRules, byHome(map[float64]float64{37.1: 100, 37.2: 5, 37.9: 50}))

	job := fixed("J1", "2026-01-10", "10:00", 60)
	start := model.Location{Latitude: 37.9, Longitude: 127.0}
	job.StartLocation = &start

	result := s.AssignJobs(context.Background(), []*model.Job{job})
	require.Len(t, result.Assigned, 1)
	assert.Equal(t, "B", result.Assigned[0].Technician.TechnicianID)
	assert.Equal(t, 5.0, result.Assigned[0].TravelMinutes)
	assert.Equal(t, start, *job.StartLocation, "作业自带位置保持不变")
}

func TestAssignJobs_RoundRobin(t *testing.T) {
	techs := []*model.Technician{
		tech("A", 37.1, false, "aircon"),
		tech("B", 37.2, false, "aircon"),
		tech("C", 37.3, false, "aircon"),
	}
	rr := matcher.RoundRobin{Offset: 0, N: len(techs), LoadPenalty: 5}
	s := newScheduler(t, techs, testRules, constTravel(10), WithComparator(rr))

	jobs := []*model.Job{
		flexible("J1", "2026-01-10", model.SlotMorning, 30),
		flexible("J2", "2026-01-10", model.SlotMorning, 30),
		flexible("J3", "2026-01-10", model.SlotMorning, 30),
	}
	result := s.AssignJobs(context.Background(), jobs)

	require.Len(t, result.Assigned, 3)
	var got []string
	for _, a := range result.Assigned {
		got = append(got, a.Technician.TechnicianID)
	}
	// 从 Offset 下一位开始，负载惩罚让已接单的技师靠后
	assert.Equal(t, []string{"B", "C", "A"}, got)
	assert.Equal(t, 0, result.NextOffset)
}

func TestAssignJobs_CapabilityAndDaysOff(t *testing.T) {
	a := tech("A", 37.5, false, "aircon")
	a.DaysOff = []string{"2026-01-10"}
	s := newScheduler(t, []*model.Technician{a}, testRules, constTravel(0))

	noSkill := flexible("J1", "2026-01-10", model.SlotAllDay, 60)
	noSkill.ServiceType = "입주청소"
	noSkill.TimeFixed = boolPtr(true)
	noSkill.FixedStartTime = "09:00"
	off := flexible("J2", "2026-01-10", model.SlotAllDay, 60)
	working := flexible("J3", "2026-01-11", model.SlotAllDay, 60)

	result := s.AssignJobs(context.Background(), []*model.Job{noSkill, off, working})

	assert.Equal(t, model.ReasonNoCapableTechnician, noSkill.ErrorReason)
	assert.Equal(t, model.ReasonTechniciansOff, off.ErrorReason)
	assert.Equal(t, []string{"J3"}, jobIDs(result.Assigned))
}

func TestAssignJobs_PreFailedAndFallback(t *testing.T) {
	observer := &recordingObserver{}
	s := newScheduler(t, []*model.Technician{tech("A", 37.5, false, "에어컨청소")}, testRules, constTravel(3),
		WithResolver(fallback.NewResolver(nil)), WithObserver(observer))

	preFailed := &model.Job{JobID: "J1", ErrorReason: model.ReasonDateFormatInvalid}
	noService := &model.Job{JobID: "J2", Date: "2026-01-10", DurationMin: 60}
	defaulted := &model.Job{JobID: "J3", ServiceType: "에어컨청소", Date: "2026-01-10",
		Location: model.Location{Latitude: 37.55, Longitude: 127.05}}

	result := s.AssignJobs(context.Background(), []*model.Job{preFailed, noService, defaulted})

	assert.Equal(t, []string{"J1", "J2"}, jobIDs(result.Failed))
	assert.Equal(t, model.ReasonDateFormatInvalid, preFailed.ErrorReason)
	assert.Equal(t, model.ReasonServiceTypeMissing, noService.ErrorReason)

	require.Len(t, result.Assigned, 1)
	assert.Equal(t, 120, defaulted.DurationMin)
	assert.Equal(t, []string{
		fallback.DetailDuration,
		fallback.DetailSlotAllDay,
		fallback.DetailHome,
		"overtime_allowed: technician (false)",
	}, defaulted.FallbackDetails)

	assert.Equal(t, []model.AssignmentStatus{model.StatusFailed, model.StatusFailed, model.StatusTimeUndefined}, observer.statuses)
}

func TestAssignJobs_TravelFromLastJob(t *testing.T) {
	var origins []model.Location
	travel := travelFunc(func(from, _ model.Location) float64 {
		origins = append(origins, from)
		return 20
	})
	s := newScheduler(t, []*model.Technician{tech("A", 37.5, false, "aircon")}, testRules, travel)

	j1 := fixed("J1", "2026-01-10", "09:00", 120) // 结束 11:30
	j2 := fixed("J2", "2026-01-10", "11:40", 60)  // 11:30 + 20 > 11:40
	j2.Location = model.Location{Latitude: 37.6, Longitude: 127.1}
	j3 := fixed("J3", "2026-01-10", "12:00", 60)

	result := s.AssignJobs(context.Background(), []*model.Job{j1, j2, j3})

	assert.Equal(t, []string{"J1", "J3"}, jobIDs(result.Assigned))
	assert.Equal(t, model.ReasonTravelBufferShort, j2.ErrorReason)
	require.Len(t, origins, 3)
	assert.Equal(t, 37.5, origins[0].Latitude, "第一个作业从家出发")
	assert.Equal(t, j1.Location, origins[1], "之后从上一个作业地点出发")
}

func TestAssignJobs_ServiceFactor(t *testing.T) {
	a := tech("A", 37.5, false, "aircon")
	a.ServiceFactors = map[string]float64{"aircon": 1.5}
	s := newScheduler(t, []*model.Technician{a}, testRules, constTravel(0))

	result := s.AssignJobs(context.Background(), []*model.Job{fixed("J1", "2026-01-10", "09:00", 120)})
	require.Len(t, result.Assigned, 1)
	assert.Equal(t, "12:30", result.Assigned[0].EndTime)
	assert.Equal(t, 120, result.Assigned[0].Job.DurationMin, "输出保留原始时长")
}

func TestAssignJobs_Partition(t *testing.T) {
	techs := []*model.Technician{
		tech("A", 37.1, false, "aircon", "입주청소"),
		tech("B", 37.2, true, "aircon"),
		tech("C", 37.3, false, "입주청소"),
	}
	rules := testRules
	rules.MaxPreassignDays = 2
	s := newScheduler(t, techs, rules, byHome(map[float64]float64{37.1: 15, 37.2: 25, 37.3: 5}))

	var jobs []*model.Job
	slots := []model.SlotType{model.SlotMorning, model.SlotAfternoon, model.SlotAllDay, ""}
	for i := 0; i < 40; i++ {
		date := fmt.Sprintf("2026-01-%02d", 10+i%4)
		var j *model.Job
		if i%3 == 0 {
			j = fixed(fmt.Sprintf("J%02d", i), date, fmt.Sprintf("%02d:00", 8+i%10), 60+i%5*30)
		} else {
			j = flexible(fmt.Sprintf("J%02d", i), date, slots[i%4], 60+i%7*40)
		}
		switch i % 11 {
		case 5:
			j.ServiceType = "입주청소"
		case 7:
			j.ServiceType = "unknown"
		case 9:
			j.ErrorReason = model.ReasonDateFormatInvalid
		}
		jobs = append(jobs, j)
	}

	result := s.AssignJobs(context.Background(), jobs)
	require.Equal(t, len(jobs), result.Total())

	seen := make(map[string]int)
	for _, list := range [][]*model.Assignment{result.Assigned, result.Failed, result.Deferred} {
		prev := -1
		for _, a := range list {
			seen[a.Job.JobID]++
			var idx int
			fmt.Sscanf(a.Job.JobID, "J%d", &idx)
			assert.Greater(t, idx, prev, "保持输入顺序")
			prev = idx
		}
	}
	for _, j := range jobs {
		assert.Equal(t, 1, seen[j.JobID], "作业 %s 恰好归入一个列表", j.JobID)
	}

	for _, a := range result.Failed {
		assert.NotEmpty(t, a.Job.ErrorReason)
	}
	for _, a := range result.Assigned {
		assert.Empty(t, a.Job.ErrorReason)
		assert.NotEqual(t, model.FailedTechnicianID, a.Technician.TechnicianID)
	}

	detector := validator.NewConflictDetector(validator.ConfigFromRules(rules))
	assert.Empty(t, detector.DetectAll(result.Assigned))

	// 固定作业不重叠，预约天数不超上限
	for _, id := range s.TechnicianIDs() {
		ws, _ := s.WorkingState(id)
		dates := map[string]bool{}
		fixedIntervals := map[string][]model.Interval{}
		for _, a := range result.Assigned {
			if a.Technician.TechnicianID != id {
				continue
			}
			dates[a.Job.Date] = true
			if a.IsFixed() {
				for _, other := range fixedIntervals[a.Job.Date] {
					assert.False(t, a.Interval.Overlaps(other), "技师 %s 在 %s 时间重叠", id, a.Job.Date)
				}
				fixedIntervals[a.Job.Date] = append(fixedIntervals[a.Job.Date], a.Interval)
			}
		}
		assert.LessOrEqual(t, len(dates), rules.MaxPreassignDays)
		assert.Equal(t, len(dates), ws.AssignedDays())
	}
}

func TestAssignJobs_SecondPass(t *testing.T) {
	rules := testRules
	rules.MaxPreassignDays = 1
	s := newScheduler(t, []*model.Technician{tech("A", 37.5, false, "aircon")}, rules, constTravel(0))

	first := s.AssignJobs(context.Background(), []*model.Job{
		flexible("J1", "2026-01-11", model.SlotMorning, 60),
		flexible("J2", "2026-01-10", model.SlotMorning, 60),
	})
	require.Len(t, first.Deferred, 1)

	// 延后的作业再次派单仍受同一状态约束
	second := s.AssignJobs(context.Background(), []*model.Job{first.Deferred[0].Job})
	assert.Len(t, second.Deferred, 1)

	states := s.States()
	require.Len(t, states, 1)
	assert.Equal(t, "A", states[0].TechnicianID)
	require.NotNil(t, states[0].LastLocation)
}
