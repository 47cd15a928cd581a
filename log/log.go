package log

import (
	"context"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Error(v ...interface{})
	Warn(v ...interface{})
	Info(v ...interface{})
	Debug(v ...interface{})
	Errorf(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	// With 返回附带固定字段的 logger
	With(keysAndValues ...interface{}) Logger
	Sync() error
}

var defaultLogger atomic.Value

func init() {
	SetDefaultLogger(NewSugarLogger(NewOptions()))
}

// Options 选项配置
type Options struct {
	LogName    string // 日志名称
	LogLevel   string // 日志级别
	FileName   string // 文件名称
	MaxAge     int    // 日志保留时间，以天为单位
	MaxSize    int    // 日志保留大小，以 M 为单位
	MaxBackups int    // 保留文件个数
	Compress   bool   // 是否压缩
	Console    bool   // 是否同时输出到标准输出
}

// Option 选项方法
type Option func(*Options)

// NewOptions 初始化
func NewOptions(opts ...Option) Options {
	options := Options{
		LogName:    "goxa",
		LogLevel:   "info",
		FileName:   "goxa.log",
		MaxAge:     10,
		MaxSize:    100,
		MaxBackups: 3,
		Compress:   true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WithLogName 日志名称
func WithLogName(name string) Option {
	return func(o *Options) {
		o.LogName = name
	}
}

// WithLogLevel 日志级别
func WithLogLevel(level string) Option {
	return func(o *Options) {
		o.LogLevel = level
	}
}

// WithFileName 日志文件
func WithFileName(filename string) Option {
	return func(o *Options) {
		o.FileName = filename
	}
}

// WithRotation 日志滚动策略
func WithRotation(maxSizeMB, maxAgeDays, maxBackups int, compress bool) Option {
	return func(o *Options) {
		o.MaxSize = maxSizeMB
		o.MaxAge = maxAgeDays
		o.MaxBackups = maxBackups
		o.Compress = compress
	}
}

// WithConsole 同时输出到标准输出
func WithConsole(console bool) Option {
	return func(o *Options) {
		o.Console = console
	}
}

// Levels zapcore level
var Levels = map[string]zapcore.Level{
	"":      zapcore.DebugLevel,
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
	"fatal": zapcore.FatalLevel,
}

type zapLoggerWrapper struct {
	*zap.SugaredLogger
	options Options
}

// NewSugarLogger 基于 zap 构造日志，文件按 lumberjack 策略滚动
func NewSugarLogger(options Options) Logger {
	w := &zapLoggerWrapper{options: options}
	encoder := w.getEncoder()
	writeSyncer := w.getLogWriter()
	level, ok := Levels[options.LogLevel]
	if !ok {
		level = zapcore.InfoLevel
	}
	core := zapcore.NewCore(encoder, writeSyncer, level)
	w.SugaredLogger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		Sugar().
		With("logger", options.LogName)
	return w
}

// NewZapLogger 包装一个已有的 zap logger，测试中可以传入 zaptest/observer 构造的 logger
func NewZapLogger(logger *zap.Logger) Logger {
	return &zapLoggerWrapper{SugaredLogger: logger.Sugar()}
}

func (w *zapLoggerWrapper) With(keysAndValues ...interface{}) Logger {
	return &zapLoggerWrapper{
		SugaredLogger: w.SugaredLogger.With(keysAndValues...),
		options:       w.options,
	}
}

func (w *zapLoggerWrapper) getEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	// 在日志文件中使用大写字母记录日志级别
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	// NewConsoleEncoder 打印更符合人们观察的方式
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func (w *zapLoggerWrapper) getLogWriter() zapcore.WriteSyncer {
	fileWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   w.options.FileName,
		MaxAge:     w.options.MaxAge,
		MaxSize:    w.options.MaxSize,
		MaxBackups: w.options.MaxBackups,
		Compress:   w.options.Compress,
	})
	if !w.options.Console {
		return fileWriter
	}
	return zapcore.NewMultiWriteSyncer(fileWriter, zapcore.AddSync(os.Stdout))
}

type loggerHolder struct {
	logger Logger
}

// SetDefaultLogger 替换默认日志实现
func SetDefaultLogger(logger Logger) {
	defaultLogger.Store(loggerHolder{logger: logger})
}

// GetDefaultLogger 获取默认日志实现
func GetDefaultLogger() Logger {
	return defaultLogger.Load().(loggerHolder).logger
}

type fieldsKey struct{}

// WithContextFields 在 ctx 中附带日志字段，Context 系列方法会带上这些字段
func WithContextFields(ctx context.Context, keysAndValues ...interface{}) context.Context {
	fields, _ := ctx.Value(fieldsKey{}).([]interface{})
	merged := make([]interface{}, 0, len(fields)+len(keysAndValues))
	merged = append(merged, fields...)
	merged = append(merged, keysAndValues...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

func fromContext(ctx context.Context) Logger {
	logger := GetDefaultLogger()
	if ctx == nil {
		return logger
	}
	if fields, ok := ctx.Value(fieldsKey{}).([]interface{}); ok && len(fields) > 0 {
		return logger.With(fields...)
	}
	return logger
}

// Debugf 打印 Debug 日志
func Debugf(format string, args ...interface{}) {
	GetDefaultLogger().Debugf(format, args...)
}

// Infof 打印 Info 日志
func Infof(format string, args ...interface{}) {
	GetDefaultLogger().Infof(format, args...)
}

// Warnf 打印 Warn 日志
func Warnf(format string, args ...interface{}) {
	GetDefaultLogger().Warnf(format, args...)
}

// Errorf 打印 Error 日志
func Errorf(format string, args ...interface{}) {
	GetDefaultLogger().Errorf(format, args...)
}

// DebugContext 打印 Debug 日志
func DebugContext(ctx context.Context, args ...interface{}) {
	fromContext(ctx).Debug(args...)
}

// DebugContextf 打印 Debug 日志
func DebugContextf(ctx context.Context, format string, args ...interface{}) {
	fromContext(ctx).Debugf(format, args...)
}

// InfoContext 打印 Info 日志
func InfoContext(ctx context.Context, args ...interface{}) {
	fromContext(ctx).Info(args...)
}

// InfoContextf 打印 Info 日志
func InfoContextf(ctx context.Context, format string, args ...interface{}) {
	fromContext(ctx).Infof(format, args...)
}

// WarnContext 打印 Warn 日志
func WarnContext(ctx context.Context, args ...interface{}) {
	fromContext(ctx).Warn(args...)
}

// WarnContextf 打印 Warn 日志
func WarnContextf(ctx context.Context, format string, args ...interface{}) {
	fromContext(ctx).Warnf(format, args...)
}

// ErrorContext 打印 Error 日志
func ErrorContext(ctx context.Context, args ...interface{}) {
	fromContext(ctx).Error(args...)
}

func ErrorContextf(ctx context.Context, format string, args ...interface{}) {
	fromContext(ctx).Errorf(format, args...)
}

// Sync 刷新缓冲的日志
func Sync() error {
	return GetDefaultLogger().Sync()
}
