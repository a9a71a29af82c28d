package eventlog

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/eventtrigger/pkg/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE event_record(
			id INTEGER PRIMARY KEY,
			time INT NOT NULL,
			stream INT NOT NULL,
			trigger_id INT NOT NULL,
			event_type TEXT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			result TEXT
		);

		CREATE INDEX idx_event_record_stream_time ON event_record (stream, time);
	`))

	return migs
}
