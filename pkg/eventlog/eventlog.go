// Package eventlog is a journal of dispatched events, stored in SQLite
package eventlog

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/eventtrigger/pkg/dbh"
	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/trigger"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Record is one dispatched event
type Record struct {
	BaseModel
	Time      dbh.IntTime                     `json:"time"`
	Stream    int64                           `json:"stream"`
	TriggerID int64                           `json:"triggerId"`
	EventType string                          `json:"eventType"`
	Width     int                             `json:"width"`  // Frame width
	Height    int                             `json:"height"` // Frame height
	Result    *dbh.JSONField[json.RawMessage] `json:"result"`
}

func (Record) TableName() string {
	return "event_record"
}

// Journal records events. Use Callback as the callback of RegisterEvent.
type Journal struct {
	Log logs.Log
	db  *gorm.DB

	now      func() time.Time
	failures atomic.Int64
	lastErr  atomic.Int64 // unix nanoseconds of the last logged failure
}

// Open or create a journal
func Open(log logs.Log, filename string) (*Journal, error) {
	log.Infof("Opening event journal at '%v'", filename)
	db, err := dbh.OpenSqlite(log, filename, Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open event journal %v: %w", filename, err)
	}
	return &Journal{
		Log: log,
		db:  db,
		now: time.Now,
	}, nil
}

func (j *Journal) Close() error {
	raw, err := j.db.DB()
	if err != nil {
		return err
	}
	return raw.Close()
}

// Add writes one event to the journal
func (j *Journal) Add(ev *trigger.Event) error {
	if ev == nil || ev.Result == nil {
		return fmt.Errorf("%w: event has no result", errkind.ErrInvalidParameter)
	}
	raw, err := json.Marshal(ev.Result)
	if err != nil {
		return err
	}
	rec := &Record{
		Time:      dbh.MakeIntTime(j.now()),
		Stream:    int64(ev.StreamID),
		TriggerID: int64(ev.TriggerID),
		EventType: ev.Type.String(),
		Result:    dbh.MakeJSONField(json.RawMessage(raw)),
	}
	if ev.Gray != nil {
		rec.Width = ev.Gray.Width
		rec.Height = ev.Gray.Height
	}
	return j.db.Create(rec).Error
}

// Callback records every event it receives.
// Failures are counted, and logged at most every 15 seconds.
func (j *Journal) Callback(ev *trigger.Event) {
	if err := j.Add(ev); err != nil {
		j.failures.Add(1)
		now := time.Now().UnixNano()
		last := j.lastErr.Load()
		if time.Duration(now-last) > 15*time.Second && j.lastErr.CompareAndSwap(last, now) {
			j.Log.Errorf("Failed to write event to journal: %v", err)
		}
	}
}

// Failures returns the number of events that Callback failed to write
func (j *Journal) Failures() int64 {
	return j.failures.Load()
}

// Query selects records
type Query struct {
	Stream    *int64    // nil = all streams
	EventType string    // "" = all types
	After     time.Time // zero = no lower bound
	Limit     int       // 0 = no limit
}

// Find returns the newest matching records first
func (j *Journal) Find(q Query) ([]Record, error) {
	tx := j.db.Model(&Record{})
	if q.Stream != nil {
		tx = tx.Where("stream = ?", *q.Stream)
	}
	if q.EventType != "" {
		tx = tx.Where("event_type = ?", q.EventType)
	}
	if !q.After.IsZero() {
		tx = tx.Where("time > ?", dbh.MakeIntTime(q.After))
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	records := []Record{}
	if err := tx.Order("time DESC, id DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Streams returns the IDs of all streams that have at least one record
func (j *Journal) Streams() ([]int64, error) {
	return dbh.ScanArray[int64](j.db.Raw("SELECT DISTINCT stream FROM event_record ORDER BY stream").Rows())
}

// CountByType returns the number of records of each event type
func (j *Journal) CountByType() (map[string]int64, error) {
	type row struct {
		EventType string
		N         int64
	}
	rows := []row{}
	if err := j.db.Raw("SELECT event_type, COUNT(*) AS n FROM event_record GROUP BY event_type").Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := map[string]int64{}
	for _, r := range rows {
		counts[r.EventType] = r.N
	}
	return counts, nil
}
