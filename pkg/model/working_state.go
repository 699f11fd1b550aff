package model

// WorkingState 技师在单次派单中的工作状态，由调度器独占
type WorkingState struct {
	Technician      *Technician
	Index           int // 在名册中的位置
	CurrentLocation Location
	LastWorkEndTime string // HH:MM，仅固定时间作业推进
	LastWorkDate    string

	assignmentsByDate map[string][]*Assignment
	dates             []string // 首次出现顺序
	lastCommitted     *Assignment
	count             int
}

// NewWorkingState 根据技师和可选的历史状态创建工作状态
func NewWorkingState(tech *Technician, index int, state *TechnicianState) *WorkingState {
	ws := &WorkingState{
		Technician:        tech,
		Index:             index,
		CurrentLocation:   tech.Home,
		assignmentsByDate: make(map[string][]*Assignment),
	}
	if state == nil {
		return ws
	}
	if state.LastLocation != nil && !state.LastLocation.IsZero() {
		ws.CurrentLocation = *state.LastLocation
	}
	return ws
}

// Seed 用历史结束时间初始化，调用方负责解析
func (ws *WorkingState) Seed(date, clock string) {
	ws.LastWorkDate = date
	ws.LastWorkEndTime = clock
}

// AssignmentsFor 返回某天的已提交分配，顺序为提交顺序
func (ws *WorkingState) AssignmentsFor(date string) []*Assignment {
	return ws.assignmentsByDate[date]
}

// LastCommitted 最近一次提交的分配，即产生当前位置的分配
func (ws *WorkingState) LastCommitted() *Assignment {
	return ws.lastCommitted
}

// AssignedDays 已有分配的不同日期数
func (ws *WorkingState) AssignedDays() int {
	return len(ws.dates)
}

// AssignmentCount 已提交分配总数
func (ws *WorkingState) AssignmentCount() int {
	return ws.count
}

// LatestDate 已分配日期中最晚的一天，没有分配时为空
func (ws *WorkingState) LatestDate() string {
	latest := ""
	for _, d := range ws.dates {
		if d > latest {
			latest = d
		}
	}
	return latest
}

// CanAssignDate 预约天数上限检查
// 未达到上限时任何日期都可接；达到上限后只接晚于最晚日期的作业
func (ws *WorkingState) CanAssignDate(date string, maxDays int) bool {
	if len(ws.dates) < maxDays {
		return true
	}
	return date > ws.LatestDate()
}

// Commit 提交分配并推进位置；只有固定时间作业会推进最后结束时间
func (ws *WorkingState) Commit(a *Assignment) {
	date := a.Job.Date
	if _, ok := ws.assignmentsByDate[date]; !ok {
		ws.dates = append(ws.dates, date)
	}
	ws.assignmentsByDate[date] = append(ws.assignmentsByDate[date], a)
	ws.lastCommitted = a
	ws.count++

	ws.CurrentLocation = a.Job.Location
	if a.EndTime != "" {
		ws.LastWorkEndTime = a.EndTime
		ws.LastWorkDate = date
	}
}

// Snapshot 导出批次结束时的技师状态，供下一批次使用
func (ws *WorkingState) Snapshot() TechnicianState {
	loc := ws.CurrentLocation
	st := TechnicianState{
		TechnicianID: ws.Technician.TechnicianID,
		LastLocation: &loc,
	}
	if ws.LastWorkEndTime != "" {
		if ws.LastWorkDate != "" {
			st.LastEndTime = ws.LastWorkDate + " " + ws.LastWorkEndTime
		} else {
			st.LastEndTime = ws.LastWorkEndTime
		}
	}
	return st
}
