package sink

import (
	"github.com/banshee-data/presence.report/internal/db"
	"github.com/banshee-data/presence.report/internal/presence"
)

// DBSink records events in the SQLite event store. It does not own the
// database; Close is a no-op.
type DBSink struct {
	db *db.DB
}

func NewDBSink(database *db.DB) *DBSink {
	return &DBSink{db: database}
}

func (s *DBSink) Write(ev presence.Event) error {
	return s.db.RecordEvent(ev)
}

func (s *DBSink) Close() error { return nil }
