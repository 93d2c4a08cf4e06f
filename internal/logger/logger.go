package logger

import (
	"github.com/sirupsen/logrus"
)

// Log - глобальный логгер. До Init пишет в stderr с уровнем Info, чтобы
// пакеты и тесты могли логировать без явной инициализации.
var Log = logrus.New()

// Init инициализирует структурированный логгер.
func Init(level, env string) {
	Log = logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	// Используем JSON формат для production, text для development
	if env == "production" {
		Log.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// Component возвращает запись лога с полем component.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}
