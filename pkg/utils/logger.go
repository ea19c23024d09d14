package utils

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger.go - настройка структурированного логирования (zap)
//
// Назначение:
// Единая точка создания логгера для торгового цикла, агрегатора фандинга,
// Telegram-бота и HTTP API. Поддерживает вывод в консоль и дублирование
// в лог-файл (операционный журнал процесса).

// LogConfig описывает параметры логгера
type LogConfig struct {
	Level       string // debug, info, warn, error
	Format      string // json или text
	Output      string // путь к лог-файлу; пусто = только stderr
	Development bool   // режим разработки (stacktrace на warn, caller)
}

// Logger оборачивает zap.Logger и хранит sugared-версию для форматированного вывода
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// InitLogger создаёт логгер по конфигурации.
//
// Если файл Output не удаётся открыть, логгер продолжает писать только в stderr.
func InitLogger(cfg LogConfig) *Logger {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}

	var consoleEncoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "json" {
		consoleEncoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		consoleEncoder = zapcore.NewConsoleEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level),
	}

	if cfg.Output != "" && cfg.Output != "stderr" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			// в файл всегда JSON, чтобы журнал можно было разбирать
			fileCfg := zap.NewProductionEncoderConfig()
			fileCfg.TimeKey = "ts"
			fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(f), level))
		} else {
			defer func() {
				zap.New(cores[0]).Warn("не удалось открыть лог-файл, пишем только в stderr",
					zap.String("path", cfg.Output), zap.Error(err))
			}()
		}
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	}

	base := zap.New(zapcore.NewTee(cores...), opts...)
	return &Logger{Logger: base, sugar: base.Sugar()}
}

// parseLevel переводит строку в уровень zap; неизвестные значения = info
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// With возвращает дочерний логгер с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := l.Logger.With(fields...)
	return &Logger{Logger: child, sugar: child.Sugar()}
}

// WithSymbol добавляет поле symbol
func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(zap.String("symbol", symbol))
}

// Sugar возвращает sugared-логгер
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}
