package logging

import (
	"github.com/charmbracelet/log"
)

/*
Setup configures the process-wide logger from the resolved configuration.
Debug mode wins over the configured level and turns on caller reporting so
frame-level tracing is readable.
*/
func Setup(level string, debug bool) {
	log.SetReportTimestamp(true)

	if debug {
		log.SetReportCaller(true)
		log.SetLevel(log.DebugLevel)
		return
	}

	parsed, err := log.ParseLevel(level)

	if err != nil {
		log.Warn("unknown log level, falling back to info", "level", level)
		parsed = log.InfoLevel
	}

	log.SetLevel(parsed)
}
