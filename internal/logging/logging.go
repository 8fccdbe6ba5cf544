// Package logging настраивает структурированный zerolog для сервиса.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config конфигурация логгера
type Config struct {
	Environment string // "development" -> консольный вывод; иначе JSON
	Level       string // "trace", "debug", "info", "warn", "error"
}

// New создает структурированный логгер. В development используется
// человекочитаемый вывод, в остальных окружениях JSON.
func New(cfg Config) zerolog.Logger {
	var w io.Writer = os.Stdout
	if cfg.Environment == "development" {
		w = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	logger := zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()

	// Глобальный логгер zerolog для библиотек, которые его используют
	log.Logger = logger

	return logger
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
