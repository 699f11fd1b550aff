package model

// 作业失败原因。失败原因不是 Go error，而是写在 Job.ErrorReason 上的稳定代码
const (
	ReasonServiceTypeMissing   = "service_type_missing"
	ReasonDurationMissing      = "duration_missing"
	ReasonFixedTimeMissing     = "FIXED_TIME_MISSING"
	ReasonRequiredFieldMissing = "REQUIRED_FIELD_MISSING"
	ReasonDateFormatInvalid    = "DATE_FORMAT_INVALID"
	ReasonNoCapableTechnician  = "NO_CAPABLE_TECHNICIAN"
	ReasonTechniciansOff       = "TECHNICIANS_OFF"
	ReasonOvertimeNotAllowed   = "OVERTIME_NOT_ALLOWED"
	ReasonTimeConflict         = "TIME_CONFLICT"
	ReasonTravelBufferShort    = "TRAVEL_BUFFER_INSUFFICIENT"
	ReasonSlotTooSmall         = "SLOT_TOO_SMALL"
	ReasonSlotCapacityExceeded = "SLOT_CAPACITY_EXCEEDED"
	ReasonTimeFormatInvalid    = "TIME_FORMAT_INVALID"
	ReasonCannotFit            = "CANNOT_FIT"
)
