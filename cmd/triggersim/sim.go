package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cyclopcam/eventtrigger/pkg/annotate"
	"github.com/cyclopcam/eventtrigger/pkg/config"
	"github.com/cyclopcam/eventtrigger/pkg/eventlog"
	"github.com/cyclopcam/eventtrigger/pkg/events"
	"github.com/cyclopcam/eventtrigger/pkg/trigger"
	"github.com/cyclopcam/eventtrigger/pkg/vision"
	"github.com/cyclopcam/eventtrigger/server/livefeed"
	"github.com/cyclopcam/logs"
)

// Sim replays the streams of a scenario through an event manager
type Sim struct {
	Log      logs.Log
	Scenario *config.Scenario
	Manager  *events.Manager
	Journal  *eventlog.Journal // nil if the scenario has no event log
	Writer   *annotate.Writer  // nil if the scenario has no annotation directory
	Feed     *livefeed.Feed    // nil if the scenario does not listen

	httpServer *http.Server
	listener   net.Listener

	lock       sync.Mutex
	dispatches map[trigger.EventType]int
}

func NewSim(log logs.Log, scenario *config.Scenario, toolkit vision.Toolkit, verbose bool) (*Sim, error) {
	m, err := events.NewManager(trigger.Options{Log: log, Toolkit: toolkit, Verbose: verbose})
	if err != nil {
		return nil, err
	}
	s := &Sim{
		Log:        log,
		Scenario:   scenario,
		Manager:    m,
		dispatches: map[trigger.EventType]int{},
	}
	if scenario.EventLog != "" {
		if s.Journal, err = eventlog.Open(log, scenario.EventLog); err != nil {
			s.Close()
			return nil, err
		}
	}
	if scenario.AnnotateDir != "" {
		if s.Writer, err = annotate.NewWriter(log, scenario.AnnotateDir); err != nil {
			s.Close()
			return nil, err
		}
	}
	if scenario.Listen != "" {
		s.Feed = livefeed.New(log, m, livefeed.DefaultBacklogSize)
	}
	return s, nil
}

// Register subscribes every event of the scenario
func (s *Sim) Register() error {
	for _, e := range s.Scenario.Events {
		et, err := trigger.ParseEventType(e.Type)
		if err != nil {
			return err
		}
		err = s.Manager.RegisterEvent(et, trigger.TriggerID(e.TriggerID), trigger.StreamID(e.Stream), e.ROI, e.Config, s.onEvent, e)
		if err != nil {
			return fmt.Errorf("Failed to register %v %v on stream %v: %w", e.Type, e.TriggerID, e.Stream, err)
		}
	}
	return nil
}

func (s *Sim) onEvent(ev *trigger.Event) {
	s.lock.Lock()
	s.dispatches[ev.Type]++
	s.lock.Unlock()

	s.Log.Infof("Stream %v: %v (trigger %v) %v", ev.StreamID, ev.Type, ev.TriggerID, summarize(ev.Result))
	if s.Journal != nil {
		s.Journal.Callback(ev)
	}
	if s.Writer != nil {
		s.Writer.Callback(ev)
	}
	if s.Feed != nil {
		s.Feed.Callback(ev)
	}
}

// summarize lists the counts of a result
func summarize(r *trigger.Result) string {
	str := ""
	for _, name := range r.Names() {
		if n, err := r.Int(name); err == nil {
			if str != "" {
				str += " "
			}
			str += fmt.Sprintf("%v=%v", name, n)
		}
	}
	return str
}

// Dispatches returns the number of callbacks received per event type
func (s *Sim) Dispatches() map[trigger.EventType]int {
	s.lock.Lock()
	defer s.lock.Unlock()
	c := map[trigger.EventType]int{}
	for k, v := range s.dispatches {
		c[k] = v
	}
	return c
}

// Listen starts the live feed HTTP server, if the scenario asks for one
func (s *Sim) Listen() error {
	if s.Feed == nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.Scenario.Listen)
	if err != nil {
		return err
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.Feed.Router()}
	s.Log.Infof("Live feed listening on %v", ln.Addr())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Errorf("Live feed server failed: %v", err)
		}
	}()
	return nil
}

// Replay pushes every stream's frames through the manager, one goroutine per stream.
// loops is the number of times to replay each stream.
func (s *Sim) Replay(ctx context.Context, loops int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, len(s.Scenario.Streams))
	for i, st := range s.Scenario.Streams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.replayStream(ctx, st, loops); err != nil {
				errs[i] = fmt.Errorf("Stream %v: %w", st.ID, err)
				cancel()
			}
		}()
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Sim) replayStream(ctx context.Context, st config.Stream, loops int) error {
	files, err := listFrames(st.Frames)
	if err != nil {
		return err
	}
	var tick <-chan time.Time
	if st.FPS > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(st.FPS))
		defer ticker.Stop()
		tick = ticker.C
	}
	s.Log.Infof("Replaying %v frames on stream %v", len(files), st.ID)
	for loop := 0; loop < loops; loop++ {
		for _, fn := range files {
			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return nil
				}
			} else if ctx.Err() != nil {
				return nil
			}
			src, err := loadFrame(fn)
			if err != nil {
				return err
			}
			if err := s.Manager.PushSource(src, trigger.StreamID(st.ID)); err != nil {
				return fmt.Errorf("Failed to push %v: %w", fn, err)
			}
		}
	}
	return nil
}

// Close shuts down the HTTP server and closes everything
func (s *Sim) Close() {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		s.httpServer.Shutdown(ctx)
		cancel()
	}
	if s.Feed != nil {
		s.Feed.Close()
	}
	s.Manager.Close()
	if s.Journal != nil {
		if err := s.Journal.Close(); err != nil {
			s.Log.Warnf("Failed to close event journal: %v", err)
		}
	}
}
