// Package livefeed publishes dispatched events over HTTP and websockets
package livefeed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/eventtrigger/pkg/events"
	"github.com/cyclopcam/eventtrigger/pkg/gen"
	"github.com/cyclopcam/eventtrigger/pkg/trigger"
	"github.com/cyclopcam/eventtrigger/pkg/www"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Number of recent events that are sent to a client when it connects
const DefaultBacklogSize = 64

// Number of messages that we will buffer for a websocket client, before dropping messages to it
const WebSocketSendBufferSize = 32

// Message is the JSON form of one event
type Message struct {
	Seq       int64             `json:"seq"`
	Time      int64             `json:"time"` // Unix milliseconds
	Stream    trigger.StreamID  `json:"stream"`
	TriggerID trigger.TriggerID `json:"triggerId"`
	EventType trigger.EventType `json:"eventType"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Result    json.RawMessage   `json:"result"`
}

type EventTypeJSON struct {
	Type   trigger.EventType `json:"type"`
	Values []string          `json:"values"`
}

// Feed is a trigger.Callback target that fans events out to websocket clients
type Feed struct {
	Log     logs.Log
	Manager *events.Manager // Optional. Serves /api/stats if not nil.

	wsUpgrader websocket.Upgrader

	lock    sync.Mutex
	seq     int64
	backlog ringbuffer.RingP[Message]
	clients map[*client]bool
	closed  bool
}

// New creates a feed. backlogSize is rounded up to a power of 2.
func New(log logs.Log, manager *events.Manager, backlogSize int) *Feed {
	if backlogSize <= 0 {
		backlogSize = DefaultBacklogSize
	}
	return &Feed{
		Log:     log,
		Manager: manager,
		backlog: ringbuffer.NewRingP[Message](gen.NextPowerOf2(backlogSize)),
		clients: map[*client]bool{},
	}
}

// Callback publishes ev to all connected clients. It never blocks on a slow client.
func (f *Feed) Callback(ev *trigger.Event) {
	raw, err := json.Marshal(ev.Result)
	if err != nil {
		f.Log.Errorf("Failed to marshal %v result: %v", ev.Type, err)
		return
	}
	msg := Message{
		Time:      time.Now().UnixMilli(),
		Stream:    ev.StreamID,
		TriggerID: ev.TriggerID,
		EventType: ev.Type,
		Result:    raw,
	}
	if ev.Gray != nil {
		msg.Width = ev.Gray.Width
		msg.Height = ev.Gray.Height
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	if f.closed {
		return
	}
	f.seq++
	msg.Seq = f.seq
	f.backlog.Add(msg)
	for c := range f.clients {
		c.send(msg)
	}
}

// Recent returns the backlog, oldest first
func (f *Feed) Recent() []Message {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.recentLocked()
}

func (f *Feed) recentLocked() []Message {
	msgs := make([]Message, 0, f.backlog.Len())
	for i := 0; i < f.backlog.Len(); i++ {
		msgs = append(msgs, f.backlog.Peek(i))
	}
	return msgs
}

// NumClients returns the number of connected websockets
func (f *Feed) NumClients() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.clients)
}

// Close disconnects all clients
func (f *Feed) Close() {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.closed = true
	for c := range f.clients {
		c.close()
		delete(f.clients, c)
	}
}

// Router returns the HTTP routes of the feed
func (f *Feed) Router() *httprouter.Router {
	router := httprouter.New()
	www.Handle(f.Log, router, "GET", "/api/eventTypes", f.httpEventTypes)
	www.Handle(f.Log, router, "GET", "/api/eventTypes/:type/values", f.httpResultValues)
	www.Handle(f.Log, router, "GET", "/api/recent", f.httpRecent)
	www.Handle(f.Log, router, "GET", "/api/stats", f.httpStats)
	router.GET("/api/ws", f.httpWebSocket)
	return router
}

func (f *Feed) httpEventTypes(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	all := []EventTypeJSON{}
	trigger.ForEachEventType(func(t trigger.EventType) bool {
		names, err := trigger.ResultValueNames(t)
		www.Check(err)
		all = append(all, EventTypeJSON{t, names})
		return true
	})
	www.SendJSON(w, all)
}

func (f *Feed) httpResultValues(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	t, err := trigger.ParseEventType(p.ByName("type"))
	www.Check(err)
	names, err := trigger.ResultValueNames(t)
	www.Check(err)
	www.SendJSON(w, names)
}

func (f *Feed) httpRecent(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	recent := f.Recent()
	if n := www.QueryInt(r, "limit", 0); n > 0 && n < len(recent) {
		recent = recent[len(recent)-n:]
	}
	www.SendJSON(w, recent)
}

func (f *Feed) httpStats(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if f.Manager == nil {
		www.PanicNotFound()
	}
	www.SendJSON(w, f.Manager.Stats())
}

func (f *Feed) httpWebSocket(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	conn, err := f.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		f.Log.Errorf("Live feed websocket upgrade failed: %v", err)
		return
	}
	c := newClient(f.Log, conn)

	// Register and queue the backlog atomically, so that no event is missed or sent twice
	f.lock.Lock()
	if f.closed {
		f.lock.Unlock()
		conn.Close()
		return
	}
	for _, msg := range f.recentLocked() {
		c.send(msg)
	}
	f.clients[c] = true
	f.lock.Unlock()

	c.run()

	f.lock.Lock()
	delete(f.clients, c)
	f.lock.Unlock()
}
