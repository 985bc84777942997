package sink

import "github.com/banshee-data/presence.report/internal/monitoring"

var logs = monitoring.NewStreams("[sink] ")

// SetLogWriters configures the sink log streams. Pass nil for any writer to
// disable that stream.
func SetLogWriters(w monitoring.LogWriters) { logs.Set(w) }

func opsf(format string, args ...interface{})  { logs.Opsf(format, args...) }
func diagf(format string, args ...interface{}) { logs.Diagf(format, args...) }
