// Package version хранит данные сборки, которые проставляются через -ldflags.
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

// Version возвращает только версию; её видно в /healthz и в ресурсе трассировки.
func Version() string { return version }

// String форматирует данные сборки для стартового лога и `-version`.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
