package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yk970217-wq/cleanbear/pkg/model"
)

func assigned(techID, date string, travel float64, minutes int) *model.Assignment {
	return &model.Assignment{
		Job:           &model.Job{JobID: techID + date, Date: date},
		Technician:    &model.Technician{TechnicianID: techID},
		Status:        model.StatusTimeUndefined,
		TravelMinutes: travel,
		EffectiveMin:  minutes,
	}
}

func TestAnalyzer_Analyze(t *testing.T) {
	a := NewAnalyzer(9999)

	ok := []*model.Assignment{
		assigned("A", "2026-01-10", 10, 120),
		assigned("A", "2026-01-11", 20, 60),
		assigned("B", "2026-01-10", 9999, 90),
	}
	failed := []*model.Assignment{
		model.NewFailedAssignment(&model.Job{JobID: "F1", ErrorReason: model.ReasonTimeConflict}),
		model.NewFailedAssignment(&model.Job{JobID: "F2", ErrorReason: model.ReasonTimeConflict}),
	}
	deferred := []*model.Assignment{model.NewDeferredAssignment(&model.Job{JobID: "D1"})}

	s := a.Analyze(ok, failed, deferred, []string{"A", "B", "C"})

	assert.Equal(t, 6, s.TotalJobs)
	assert.Equal(t, 0.5, s.AssignmentRate)
	assert.Equal(t, 2, s.FailureReasons[model.ReasonTimeConflict])

	assert.Equal(t, 15.0, s.AvgTravelMinutes)
	assert.Equal(t, 20.0, s.MaxTravelMinutes)
	assert.Equal(t, 1, s.UnreachedRoutes)

	require.Len(t, s.Technicians, 3)
	assert.Equal(t, "A", s.Technicians[0].TechnicianID)
	assert.Equal(t, 2, s.Technicians[0].Jobs)
	assert.Equal(t, 2, s.Technicians[0].Days)
	assert.Equal(t, 180, s.Technicians[0].WorkMinutes)
	assert.Equal(t, 30.0, s.Technicians[0].TravelMinutes)
	assert.Equal(t, "C", s.Technicians[2].TechnicianID)
	assert.Equal(t, 0, s.Technicians[2].Jobs)

	// 负载 [0,1,2]
	assert.InDelta(t, 0.44, s.LoadGini, 0.01)
	assert.InDelta(t, 56, s.FairnessScore, 1)
	assert.Equal(t, 100.0, s.Technicians[0].Deviation)
}

func TestAnalyzer_Empty(t *testing.T) {
	s := NewAnalyzer(0).Analyze(nil, nil, nil, nil)
	assert.Equal(t, 0, s.TotalJobs)
	assert.Equal(t, 0.0, s.LoadGini)
	assert.Equal(t, 100.0, s.FairnessScore)
	assert.Empty(t, s.Technicians)
}

func TestGini(t *testing.T) {
	assert.Equal(t, 0.0, gini([]float64{3, 3, 3}))
	assert.InDelta(t, 0.667, gini([]float64{0, 0, 6}), 0.001)
	assert.Equal(t, 0.0, gini(nil))
}
