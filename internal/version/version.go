// Package version хранит сведения о сборке, заданные через -ldflags.
package version

import (
	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Version отдаётся health-проверками.
func Version() string { return version }

// UserAgent подписывает исходящие HTTP-запросы утилит back office.
func UserAgent(tool string) string {
	return "backoffice-" + tool + "/" + version + " (" + commit + ")"
}

// Fields: сведения о сборке для стартового лога.
func Fields() log.Fields {
	return log.Fields{"version": version, "commit": commit, "build_date": date}
}
