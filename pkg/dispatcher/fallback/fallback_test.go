package fallback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yk970217-wq/cleanbear/pkg/model"
)

func boolPtr(b bool) *bool { return &b }

func newState(overtime bool, last *model.Location) *model.WorkingState {
	tech := &model.Technician{
		TechnicianID:    "T1",
		Home:            model.Location{Latitude: 37.50, Longitude: 127.00},
		ServiceTypes:    []string{"에어컨청소"},
		OvertimeAllowed: overtime,
	}
	var state *model.TechnicianState
	if last != nil {
		state = &model.TechnicianState{TechnicianID: "T1", LastLocation: last}
	}
	return model.NewWorkingState(tech, 0, state)
}

func TestPrepare(t *testing.T) {
	r := NewResolver(nil)

	tests := []struct {
		name        string
		job         model.Job
		wantOK      bool
		wantReason  string
		wantDetails []string
		wantMinutes int
	}{
		{
			name:        "服务类型缺失",
			job:         model.Job{JobID: "J1", DurationMin: 60},
			wantOK:      false,
			wantReason:  model.ReasonServiceTypeMissing,
			wantDetails: []string{model.ReasonServiceTypeMissing},
			wantMinutes: 60,
		},
		{
			name:        "时长补默认值",
			job:         model.Job{JobID: "J2", ServiceType: "에어컨청소", SlotType: model.SlotMorning},
			wantOK:      true,
			wantDetails: []string{DetailDuration},
			wantMinutes: 120,
		},
		{
			name:        "未知服务无默认时长",
			job:         model.Job{JobID: "J3", ServiceType: "세탁기청소", DurationMin: -5},
			wantOK:      false,
			wantReason:  model.ReasonDurationMissing,
			wantDetails: []string{model.ReasonDurationMissing},
			wantMinutes: -5,
		},
		{
			name:        "固定时间缺开始时间",
			job:         model.Job{JobID: "J4", ServiceType: "입주청소", DurationMin: 180, TimeFixed: boolPtr(true)},
			wantOK:      false,
			wantReason:  model.ReasonFixedTimeMissing,
			wantDetails: []string{model.ReasonFixedTimeMissing},
			wantMinutes: 180,
		},
		{
			name:        "时段缺失默认全天",
			job:         model.Job{JobID: "J5", ServiceType: "입주청소", DurationMin: 180},
			wantOK:      true,
			wantDetails: []string{DetailSlotAllDay},
			wantMinutes: 180,
		},
		{
			name:        "时段小写可识别",
			job:         model.Job{JobID: "J6", ServiceType: "입주청소", DurationMin: 180, SlotType: "afternoon"},
			wantOK:      true,
			wantMinutes: 180,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := tt.job
			ok := r.Prepare(&job)

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantReason, job.ErrorReason)
			assert.Equal(t, tt.wantDetails, job.FallbackDetails)
			assert.Equal(t, tt.wantMinutes, job.DurationMin)
			assert.Equal(t, len(tt.wantDetails) > 0, job.FallbackUsed)
		})
	}
}

func TestPrepare_AlreadyFailed(t *testing.T) {
	job := &model.Job{JobID: "J1", ErrorReason: model.ReasonDateFormatInvalid}
	assert.False(t, NewResolver(nil).Prepare(job))
	assert.Equal(t, model.ReasonDateFormatInvalid, job.ErrorReason)
	assert.Empty(t, job.FallbackDetails)
}

func TestResolve(t *testing.T) {
	r := NewResolver(DurationTable{"에어컨청소": 90})

	t.Run("从家出发并继承技师加班设置", func(t *testing.T) {
		ws := newState(true, nil)
		job := &model.Job{JobID: "J1", ServiceType: "에어컨청소", SlotType: model.SlotAllDay}

		require.True(t, r.Resolve(job, ws))
		assert.Equal(t, 90, job.DurationMin)
		require.NotNil(t, job.StartLocation)
		assert.Equal(t, ws.Technician.Home, *job.StartLocation)
		require.NotNil(t, job.OvertimeAllowed)
		assert.True(t, *job.OvertimeAllowed)
		assert.Equal(t, []string{
			DetailDuration,
			DetailHome,
			"overtime_allowed: technician (true)",
		}, job.FallbackDetails)
	})

	t.Run("上一个位置优先", func(t *testing.T) {
		last := model.Location{Latitude: 37.60, Longitude: 127.10}
		ws := newState(false, &last)
		job := &model.Job{JobID: "J2", ServiceType: "에어컨청소", DurationMin: 60, SlotType: model.SlotAllDay}

		require.True(t, r.Resolve(job, ws))
		assert.Equal(t, last, *job.StartLocation)
		assert.Contains(t, job.FallbackDetails, DetailLastLocation)
	})

	t.Run("无技师上下文加班默认关闭", func(t *testing.T) {
		job := &model.Job{JobID: "J3", ServiceType: "에어컨청소", DurationMin: 60, SlotType: model.SlotAllDay}

		require.True(t, r.Resolve(job, nil))
		assert.Nil(t, job.StartLocation)
		assert.False(t, *job.OvertimeAllowed)
		assert.Equal(t, []string{DetailOvertimeOff}, job.FallbackDetails)
	})

	t.Run("重复补齐无副作用", func(t *testing.T) {
		ws := newState(false, nil)
		job := &model.Job{JobID: "J4", ServiceType: "에어컨청소"}

		require.True(t, r.Resolve(job, ws))
		before := append([]string(nil), job.FallbackDetails...)

		require.True(t, r.Resolve(job, ws))
		require.True(t, r.Prepare(job))
		assert.True(t, job.FallbackUsed)
		assert.Equal(t, before, job.FallbackDetails)
	})

	t.Run("作业指定位置不补齐", func(t *testing.T) {
		ws := newState(false, nil)
		start := model.Location{Latitude: 37.70, Longitude: 127.20}
		job := &model.Job{JobID: "J5", ServiceType: "에어컨청소", DurationMin: 60, SlotType: model.SlotAllDay,
			StartLocation: &start, OvertimeAllowed: boolPtr(false)}

		require.True(t, r.Resolve(job, ws))
		assert.False(t, job.FallbackUsed)
		assert.Equal(t, start, *job.StartLocation)
		assert.Equal(t, ws.Technician.Home, Origin(ws), "路程仍从技师位置计算")
	})

	t.Run("补齐记录按规则顺序", func(t *testing.T) {
		ws := newState(false, nil)
		job := &model.Job{JobID: "J6", ServiceType: "에어컨청소"}

		require.True(t, r.Prepare(job))
		require.True(t, r.Resolve(job, ws))
		assert.Equal(t, []string{
			DetailDuration,
			DetailHome,
			DetailSlotAllDay,
			"overtime_allowed: technician (false)",
		}, job.FallbackDetails)
	})
}

func TestOrigin(t *testing.T) {
	assert.Equal(t, model.Location{Latitude: 37.50, Longitude: 127.00}, Origin(newState(false, nil)))

	last := model.Location{Latitude: 37.60, Longitude: 127.10}
	assert.Equal(t, last, Origin(newState(false, &last)))
}
