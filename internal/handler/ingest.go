package handler

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/yk970217-wq/cleanbear/pkg/errors"
	"github.com/yk970217-wq/cleanbear/pkg/model"
)

// UnknownID 缺少ID时使用的占位值
const UnknownID = "UNKNOWN"

// AssignRequest 派单请求
type AssignRequest struct {
	Jobs             []JobInput        `json:"jobs"`
	Technicians      []TechnicianInput `json:"technicians"`
	TechnicianStates []StateInput      `json:"technician_states,omitempty"`
	SystemRules      *RulesInput       `json:"system_rules"`
	LastIndex        *int              `json:"last_index,omitempty"` // 上一批次最后分配的技师位置
}

// JobInput 作业输入，指针字段用于区分"缺失"和"零值"
type JobInput struct {
	JobID       *string  `json:"job_id" validate:"required"`
	ServiceType *string  `json:"service_type" validate:"required"`
	Lat         *float64 `json:"lat" validate:"required"`
	Lng         *float64 `json:"lng" validate:"required"`
	Date        *string  `json:"date" validate:"required"`
	DurationMin *int     `json:"duration_min" validate:"required"`

	Address         string   `json:"address,omitempty"`
	TimeFixed       *bool    `json:"time_fixed,omitempty"`
	FixedStartTime  *string  `json:"fixed_start_time,omitempty"`
	SlotType        *string  `json:"slot_type,omitempty"`
	OvertimeAllowed *bool    `json:"overtime_allowed,omitempty"`
	StartLat        *float64 `json:"start_lat,omitempty"`
	StartLng        *float64 `json:"start_lng,omitempty"`
	StartAddress    string   `json:"start_address,omitempty"`
}

// TechnicianInput 技师输入
type TechnicianInput struct {
	TechnicianID    *string  `json:"technician_id" validate:"required"`
	HomeLat         *float64 `json:"home_lat" validate:"required"`
	HomeLng         *float64 `json:"home_lng" validate:"required"`
	ServiceTypes    []string `json:"service_types" validate:"required"`
	OvertimeAllowed *bool    `json:"overtime_allowed" validate:"required"`

	Name           string             `json:"name,omitempty"`
	HomeAddress    string             `json:"home_address,omitempty"`
	ServiceFactors map[string]float64 `json:"service_factors,omitempty"`
	DaysOff        []string           `json:"days_off,omitempty" validate:"omitempty,dive,datetime=2006-01-02"`
}

// StateInput 技师状态输入
type StateInput struct {
	TechnicianID *string  `json:"technician_id"`
	LastLat      *float64 `json:"last_lat,omitempty"`
	LastLng      *float64 `json:"last_lng,omitempty"`
	LastAddress  string   `json:"last_address,omitempty"`
	LastEndTime  string   `json:"last_end_time,omitempty"`
}

// RulesInput 系统规则输入，缺省字段使用配置默认值
type RulesInput struct {
	WorkStart        *string `json:"work_start,omitempty"`
	WorkEnd          *string `json:"work_end,omitempty"`
	MaxPreassignDays *int    `json:"max_preassign_days,omitempty"`
	DefaultBufferMin *int    `json:"default_buffer_min,omitempty"`
}

func (r *RulesInput) empty() bool {
	return r == nil || (r.WorkStart == nil && r.WorkEnd == nil && r.MaxPreassignDays == nil && r.DefaultBufferMin == nil)
}

// Batch 解析后的一个派单批次
type Batch struct {
	Jobs        []*model.Job
	Technicians []*model.Technician
	Skipped     []model.SkippedTechnician
	States      []model.TechnicianState
	Rules       model.SystemRules
	LastIndex   int
}

// Ingestor 请求解析器
type Ingestor struct {
	validate *validator.Validate
	defaults model.SystemRules
}

// NewIngestor 创建解析器
func NewIngestor(defaults model.SystemRules) *Ingestor {
	v := validator.New()
	// 错误中使用 JSON 字段名
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := model.ParseClock(fl.Field().String())
		return err == nil
	})
	return &Ingestor{validate: v, defaults: defaults}
}

// systemRules 校验用的规则副本
type systemRules struct {
	WorkStart        string `json:"work_start" validate:"required,clock"`
	WorkEnd          string `json:"work_end" validate:"required,clock"`
	MaxPreassignDays int    `json:"max_preassign_days" validate:"min=1"`
	DefaultBufferMin int    `json:"default_buffer_min" validate:"min=0"`
}

// Parse 解析请求；单个作业或技师的问题不会中断批次
func (i *Ingestor) Parse(req *AssignRequest) (*Batch, *errors.AppError) {
	if req == nil {
		return nil, errors.New(errors.CodeInvalidInput, "요청 데이터가 없습니다")
	}
	if req.SystemRules.empty() {
		return nil, errors.New(errors.CodeInvalidInput, "system_rules가 없습니다")
	}

	rules, err := i.parseRules(req.SystemRules)
	if err != nil {
		return nil, err
	}

	batch := &Batch{Rules: rules, LastIndex: -1}
	if req.LastIndex != nil {
		batch.LastIndex = *req.LastIndex
	}

	for _, in := range req.Jobs {
		batch.Jobs = append(batch.Jobs, i.parseJob(in))
	}

	for _, in := range req.Technicians {
		tech, skipped := i.parseTechnician(in)
		if skipped != nil {
			batch.Skipped = append(batch.Skipped, *skipped)
			continue
		}
		batch.Technicians = append(batch.Technicians, tech)
	}

	for _, in := range req.TechnicianStates {
		if in.TechnicianID == nil || *in.TechnicianID == "" {
			continue
		}
		batch.States = append(batch.States, in.toModel())
	}

	return batch, nil
}

func (i *Ingestor) parseRules(in *RulesInput) (model.SystemRules, *errors.AppError) {
	r := i.defaults
	if in.WorkStart != nil {
		r.WorkStart = *in.WorkStart
	}
	if in.WorkEnd != nil {
		r.WorkEnd = *in.WorkEnd
	}
	if in.MaxPreassignDays != nil {
		r.MaxPreassignDays = *in.MaxPreassignDays
	}
	if in.DefaultBufferMin != nil {
		r.DefaultBufferMin = *in.DefaultBufferMin
	}

	check := systemRules(r)
	if err := i.validate.Struct(check); err != nil {
		return r, validationError(err)
	}
	if err := r.Validate(); err != nil {
		return r, errors.InvalidRules(err)
	}
	return r, nil
}

func (i *Ingestor) parseJob(in JobInput) *model.Job {
	job := &model.Job{
		JobID:           deref(in.JobID, UnknownID),
		ServiceType:     deref(in.ServiceType, ""),
		Date:            deref(in.Date, ""),
		DurationMin:     derefInt(in.DurationMin),
		TimeFixed:       in.TimeFixed,
		FixedStartTime:  strings.TrimSpace(deref(in.FixedStartTime, "")),
		OvertimeAllowed: in.OvertimeAllowed,
		Location: model.Location{
			Address:   in.Address,
			Latitude:  derefFloat(in.Lat),
			Longitude: derefFloat(in.Lng),
		},
	}
	if in.SlotType != nil {
		job.SlotType = model.SlotType(*in.SlotType)
	}
	if in.StartLat != nil && in.StartLng != nil {
		job.StartLocation = &model.Location{Address: in.StartAddress, Latitude: *in.StartLat, Longitude: *in.StartLng}
	}

	if missing, _ := i.checkFields(in); len(missing) > 0 {
		job.Fail(model.ReasonRequiredFieldMissing + ": " + strings.Join(missing, ", "))
		return job
	}
	if _, err := time.Parse(model.DateLayout, job.Date); err != nil {
		job.Fail(model.ReasonDateFormatInvalid)
		return job
	}
	if job.IsTimeFixed() && job.FixedStartTime == "" {
		job.Fail(model.ReasonFixedTimeMissing)
	}
	return job
}

func (i *Ingestor) parseTechnician(in TechnicianInput) (*model.Technician, *model.SkippedTechnician) {
	id := deref(in.TechnicianID, UnknownID)

	missing, invalid := i.checkFields(in)
	if len(missing) > 0 {
		return nil, &model.SkippedTechnician{
			TechnicianID:  id,
			Reason:        model.ReasonRequiredFieldMissing + ": " + strings.Join(missing, ", "),
			MissingFields: missing,
		}
	}
	if len(invalid) > 0 {
		return nil, &model.SkippedTechnician{TechnicianID: id, Reason: "INVALID_FIELD: " + strings.Join(invalid, ", ")}
	}

	tech := &model.Technician{
		TechnicianID:    id,
		Name:            in.Name,
		Home:            model.Location{Address: in.HomeAddress, Latitude: *in.HomeLat, Longitude: *in.HomeLng},
		ServiceTypes:    append([]string(nil), in.ServiceTypes...),
		OvertimeAllowed: *in.OvertimeAllowed,
		ServiceFactors:  in.ServiceFactors,
		DaysOff:         append([]string(nil), in.DaysOff...),
	}
	if err := tech.ValidateFactors(); err != nil {
		return nil, &model.SkippedTechnician{TechnicianID: id, Reason: err.Error()}
	}
	return tech, nil
}

// checkFields 分别返回缺失的必填字段和格式不合法的字段
func (i *Ingestor) checkFields(v interface{}) (missing, invalid []string) {
	err := i.validate.Struct(v)
	if err == nil {
		return nil, nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil, []string{err.Error()}
	}
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
			continue
		}
		invalid = append(invalid, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
	}
	return missing, invalid
}

func (in StateInput) toModel() model.TechnicianState {
	state := model.TechnicianState{
		TechnicianID: *in.TechnicianID,
		LastEndTime:  strings.TrimSpace(in.LastEndTime),
	}
	loc := model.Location{Address: in.LastAddress, Latitude: derefFloat(in.LastLat), Longitude: derefFloat(in.LastLng)}
	if !loc.IsZero() {
		state.LastLocation = &loc
	}
	return state
}

func validationError(err error) *errors.AppError {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Wrap(err, errors.CodeValidationFail, "验证失败")
	}
	ve := &errors.ValidationErrors{}
	for _, fe := range verrs {
		ve.Add(fe.Field(), fmt.Sprintf("%s=%s", fe.Tag(), fe.Param()))
	}
	return ve.ToAppError()
}

func deref(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func derefFloat(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
