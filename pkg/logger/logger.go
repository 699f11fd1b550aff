// Package logger 提供统一的日志框架
package logger

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// Level 日志级别
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"` // json/console
	Output     string `yaml:"output" json:"output"` // stdout/stderr/file
	FilePath   string `yaml:"file_path,omitempty" json:"file_path,omitempty"`
	TimeFormat string `yaml:"time_format,omitempty" json:"time_format,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// Init 初始化日志器
func Init(cfg Config) {
	once.Do(func() {
		level := parseLevel(cfg.Level)
		zerolog.SetGlobalLevel(level)

		var output io.Writer
		switch cfg.Output {
		case "stderr":
			output = os.Stderr
		case "file":
			if cfg.FilePath != "" {
				f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
				if err == nil {
					output = f
				} else {
					output = os.Stdout
				}
			} else {
				output = os.Stdout
			}
		default:
			output = os.Stdout
		}

		if cfg.Format == "console" {
			output = zerolog.ConsoleWriter{
				Out:        output,
				TimeFormat: cfg.TimeFormat,
			}
		}

		logger = zerolog.New(output).With().Timestamp().Logger()
	})
}

// parseLevel 解析日志级别
func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get 获取日志器
func Get() *zerolog.Logger {
	if logger.GetLevel() == zerolog.Disabled {
		Init(DefaultConfig())
	}
	return &logger
}

// ctxKey 上下文键
type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	batchIDKey   ctxKey = "batch_id"
)

// ContextWithRequestID 在上下文中记录请求ID
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextWithBatchID 在上下文中记录批次ID
func ContextWithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchIDKey, id)
}

// RequestID 读取请求ID
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithContext 从上下文创建日志器
func WithContext(ctx context.Context) *zerolog.Logger {
	l := Get().With().Logger()

	// 添加请求ID
	if reqID, ok := ctx.Value(requestIDKey).(string); ok {
		l = l.With().Str("request_id", reqID).Logger()
	}

	// 添加批次ID
	if batchID, ok := ctx.Value(batchIDKey).(string); ok {
		l = l.With().Str("batch_id", batchID).Logger()
	}

	return &l
}

// Debug 记录调试日志
func Debug() *zerolog.Event {
	return Get().Debug()
}

// Info 记录信息日志
func Info() *zerolog.Event {
	return Get().Info()
}

// Warn 记录警告日志
func Warn() *zerolog.Event {
	return Get().Warn()
}

// Error 记录错误日志
func Error() *zerolog.Event {
	return Get().Error()
}

// Fatal 记录致命错误日志
func Fatal() *zerolog.Event {
	return Get().Fatal()
}

// WithError 添加错误信息
func WithError(err error) *zerolog.Event {
	return Get().Error().Err(err)
}

// WithField 添加字段
func WithField(key string, value interface{}) *zerolog.Logger {
	l := Get().With().Interface(key, value).Logger()
	return &l
}

// WithFields 添加多个字段
func WithFields(fields map[string]interface{}) *zerolog.Logger {
	ctx := Get().With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	l := ctx.Logger()
	return &l
}

// DispatchLogger 派单引擎专用日志器
type DispatchLogger struct {
	base *zerolog.Logger
}

// NewDispatchLogger 创建派单引擎日志器
func NewDispatchLogger() *DispatchLogger {
	l := Get().With().Str("component", "dispatcher").Logger()
	return &DispatchLogger{base: &l}
}

// NewDispatchLoggerFrom 基于已有日志器创建
func NewDispatchLoggerFrom(base zerolog.Logger) *DispatchLogger {
	l := base.With().Str("component", "dispatcher").Logger()
	return &DispatchLogger{base: &l}
}

// NopDispatchLogger 不输出任何内容
func NopDispatchLogger() *DispatchLogger {
	l := zerolog.Nop()
	return &DispatchLogger{base: &l}
}

// StartBatch 记录批次开始
func (l *DispatchLogger) StartBatch(batchID string, jobs, technicians int) {
	l.base.Info().
		Str("batch_id", batchID).
		Int("jobs", jobs).
		Int("technicians", technicians).
		Msg("开始批量派单")
}

// JobAssigned 记录作业分配
func (l *DispatchLogger) JobAssigned(jobID, technicianID string, travel float64) {
	l.base.Debug().
		Str("job_id", jobID).
		Str("technician_id", technicianID).
		Float64("travel_minutes", travel).
		Msg("作业已分配")
}

// JobFailed 记录作业失败，失败是正常结果，不使用 error 级别
func (l *DispatchLogger) JobFailed(jobID, reason string) {
	l.base.Warn().
		Str("job_id", jobID).
		Str("reason", reason).
		Msg("作业分配失败")
}

// JobDeferred 记录作业延后
func (l *DispatchLogger) JobDeferred(jobID, date string) {
	l.base.Info().
		Str("job_id", jobID).
		Str("date", date).
		Msg("超出预约天数上限，作业延后")
}

// StateIgnored 记录无法使用的历史状态
func (l *DispatchLogger) StateIgnored(technicianID, details string) {
	l.base.Warn().
		Str("technician_id", technicianID).
		Str("details", details).
		Msg("忽略技师历史状态")
}

// BatchComplete 记录批次完成
func (l *DispatchLogger) BatchComplete(batchID string, duration time.Duration, assigned, failed, deferred int) {
	l.base.Info().
		Str("batch_id", batchID).
		Dur("duration", duration).
		Int("assigned", assigned).
		Int("failed", failed).
		Int("deferred", deferred).
		Msg("批量派单完成")
}
