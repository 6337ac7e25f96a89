// Package daemon runs the runbell server: it accepts observer connections
// on a unix socket, drives the per-tab run state machine off their events,
// and owns the timers that the state machine itself stays free of (elapsed
// ticking, stopped-state revert, reminders).
package daemon

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"runbell/internal/broadcast"
	"runbell/internal/config"
	"runbell/internal/notify"
	"runbell/internal/protocol"
	"runbell/internal/rundetect"
	"runbell/internal/runstate"
	"runbell/internal/site"
	"runbell/internal/standby"
	"runbell/internal/store"
)

// Server ties the state store, the observer hub and the notification
// dispatcher together.
type Server struct {
	store      *store.Store
	hub        *broadcast.Hub
	detector   *rundetect.Detector
	standby    *standby.Controller
	dispatcher *notify.Dispatcher

	cfgMu   sync.RWMutex
	cfg     *config.Config
	matcher *site.Matcher

	mu       sync.Mutex
	reverts  map[int]*time.Timer
	tickStop chan struct{}
	pages    map[*broadcast.Conn]string // page conn -> URL, for selector pushes on reload
}

// NewServer wires a server around an open store. The desktop sender is
// optional; connected observers always receive notify messages through
// the hub.
func NewServer(cfg *config.Config, st *store.Store, desktop notify.Sender) *Server {
	s := &Server{
		store:    st,
		hub:      broadcast.NewHub(),
		detector: rundetect.NewDetector(),
		standby:  standby.NewController(st),
		cfg:      cfg,
		matcher:  site.NewMatcher(cfg.Sites),
		reverts:  make(map[int]*time.Timer),
		pages:    make(map[*broadcast.Conn]string),
	}
	st.SetBroadcaster(s.hub)

	sender := notify.MultiSender{hubSender{hub: s.hub}}
	if desktop != nil {
		sender = append(sender, desktop)
	}
	s.dispatcher = notify.NewDispatcher(st, sender, s.focusTab, cfg.ReminderDelay.Std())
	return s
}

// ListenAndServe binds the unix socket and serves until ctx is cancelled.
// A stale socket from a previous run is removed; two live daemons on one
// socket path are not supported.
func (s *Server) ListenAndServe(ctx context.Context, configPath string) error {
	path := s.config().SocketPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("socket dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen %s: %w", path, err)
	}
	defer ln.Close()
	defer os.Remove(path)

	if err := s.dispatcher.RestoreAlarms(); err != nil {
		log.Printf("daemon: restore reminders: %v", err)
	}
	s.updateTicker()

	if configPath != "" {
		go s.watchConfig(ctx, configPath)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Printf("daemon: listening on %s", path)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.shutdown()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *Server) shutdown() {
	s.dispatcher.Stop()
	s.mu.Lock()
	for id, t := range s.reverts {
		t.Stop()
		delete(s.reverts, id)
	}
	if s.tickStop != nil {
		close(s.tickStop)
		s.tickStop = nil
	}
	s.mu.Unlock()
}

func (s *Server) config() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// handleConn owns one observer connection. The first message must be a
// hello; everything before it is dropped.
func (s *Server) handleConn(nc net.Conn) {
	defer nc.Close()

	var bc *broadcast.Conn
	err := protocol.ReadLoop(nc, func(msg protocol.Message) {
		if bc == nil {
			if msg.Type != protocol.TypeHello {
				log.Printf("daemon: %s before hello, dropping", msg.Type)
				return
			}
			bc = s.handleHello(nc, msg)
			return
		}
		s.handleMessage(bc, msg)
	}, func(err error) {
		log.Printf("daemon: bad message: %v", err)
	})

	if bc != nil {
		// A disconnect is not a tab close. The tab stays tracked so a
		// page reload resumes where it left off.
		s.hub.Unregister(bc)
		s.mu.Lock()
		delete(s.pages, bc)
		s.mu.Unlock()
	}
	if err != nil {
		log.Printf("daemon: connection read: %v", err)
	}
}

func (s *Server) handleHello(nc net.Conn, msg protocol.Message) *broadcast.Conn {
	bc := broadcast.NewConn(nc, msg.Role, msg.TabID)

	if msg.Role == protocol.RolePage {
		if err := s.store.CreateIfAbsent(msg.TabID, msg.WindowID); err != nil {
			log.Printf("daemon: track tab %d: %v", msg.TabID, err)
		}
		if selector, ok := s.match(msg.URL); ok {
			if err := bc.Send(protocol.Message{Type: protocol.TypeWatchSelector, Selector: selector}); err != nil {
				log.Printf("daemon: send selector to tab %d: %v", msg.TabID, err)
			}
		}
		s.mu.Lock()
		s.pages[bc] = msg.URL
		s.mu.Unlock()
	}

	g, err := s.store.Snapshot()
	if err != nil {
		log.Printf("daemon: snapshot for init: %v", err)
		g = runstate.Global{}
	}
	if err := bc.Send(protocol.Message{Type: protocol.TypeInit, TabID: msg.TabID, State: g}); err != nil {
		log.Printf("daemon: send init: %v", err)
	}

	// Register after init so the first stateUpdate this observer sees is
	// never older than its init snapshot.
	s.hub.Register(bc)
	return bc
}

func (s *Server) handleMessage(bc *broadcast.Conn, msg protocol.Message) {
	tabID := msg.TabID
	if tabID == 0 {
		tabID = bc.TabID
	}

	switch msg.Type {
	case protocol.TypeBusySample:
		if msg.Busy == nil {
			return
		}
		ev, ok := s.detector.Sample(tabID, *msg.Busy)
		if !ok {
			return
		}
		switch ev.Type {
		case rundetect.BusyAppeared:
			s.startRun(tabID, msg.RunName)
		case rundetect.BusyDisappeared:
			s.stopRun(tabID, false, "")
		}

	case protocol.TypeStartRun:
		s.startRun(tabID, msg.RunName)

	case protocol.TypeStopRun:
		s.stopRun(tabID, msg.IsError, msg.Error)

	case protocol.TypeError:
		if _, err := s.store.Mutate(tabID, func(ts *runstate.TabState) any {
			ts.SetError(msg.Error)
			return nil
		}); err != nil {
			log.Printf("daemon: record error for tab %d: %v", tabID, err)
		}
		s.updateTicker()

	case protocol.TypePauseResume:
		if _, err := s.store.Mutate(tabID, func(ts *runstate.TabState) any {
			ts.PauseResume(time.Now())
			return nil
		}); err != nil {
			log.Printf("daemon: pause/resume tab %d: %v", tabID, err)
		}
		s.updateTicker()

	case protocol.TypeCloseIndicator:
		s.closeIndicator(tabID)

	case protocol.TypeNavigateToTab:
		s.focusTab(msg.TabID, msg.WindowID)

	case protocol.TypeTabActivated, protocol.TypeWindowFocused:
		if err := s.standby.Activate(tabID, msg.WindowID); err != nil {
			log.Printf("daemon: activate tab %d: %v", tabID, err)
		}

	case protocol.TypeTabClosed:
		s.tabClosed(tabID)

	case protocol.TypeNotificationClicked:
		s.dispatcher.OnClicked(msg.NotificationID)

	case protocol.TypeNotificationButton:
		s.dispatcher.OnButtonClicked(msg.NotificationID, msg.ButtonIndex)

	case protocol.TypeNotificationClosed:
		s.dispatcher.OnClosed(msg.NotificationID)

	default:
		log.Printf("daemon: unhandled message %s from %s/%d", msg.Type, bc.Role, bc.TabID)
	}
}

func (s *Server) startRun(tabID int, name string) {
	if _, err := s.store.Mutate(tabID, func(ts *runstate.TabState) any {
		ts.StartRun(name, time.Now())
		return nil
	}); err != nil {
		log.Printf("daemon: start run on tab %d: %v", tabID, err)
		return
	}
	s.cancelRevert(tabID)
	s.updateTicker()
}

type stopOutcome struct {
	res      runstate.StopResult
	windowID int
}

func (s *Server) stopRun(tabID int, isError bool, errMsg string) {
	cfg := s.config()
	out, err := s.store.Mutate(tabID, func(ts *runstate.TabState) any {
		res, ok := ts.StopRun(time.Now(), isError, errMsg, cfg.MinRunDuration.Std(), cfg.HistoryLimit)
		if !ok {
			return nil
		}
		return stopOutcome{res: res, windowID: ts.WindowID}
	})
	if err != nil {
		log.Printf("daemon: stop run on tab %d: %v", tabID, err)
		return
	}
	s.updateTicker()

	oc, ok := out.(stopOutcome)
	if !ok {
		return
	}
	if !isError {
		s.scheduleRevert(tabID, oc.res.Entry.ID)
	}
	if oc.res.Notify {
		if _, err := s.dispatcher.Notify(notify.Context{
			TabID:      tabID,
			WindowID:   oc.windowID,
			DurationMs: oc.res.Entry.DurationMs,
			RunName:    oc.res.Entry.RunName,
		}); err != nil {
			log.Printf("daemon: notify for tab %d: %v", tabID, err)
		}
	}
}

// closeIndicator records that the user dismissed the on-page indicator.
// The flag stays off until a page reconnect forces it back on. A
// finished or errored run is also acknowledged immediately instead of
// waiting for the revert timer.
func (s *Server) closeIndicator(tabID int) {
	s.cancelRevert(tabID)
	if _, err := s.store.Mutate(tabID, func(ts *runstate.TabState) any {
		ts.IsVisible = false
		switch ts.Status {
		case runstate.StatusStopped:
			ts.RevertStopped(ts.HistoryHead())
		case runstate.StatusError:
			ts.Status = runstate.StatusMonitoring
			ts.Error = ""
			ts.RunName = ""
			ts.ElapsedTime = 0
		}
		return nil
	}); err != nil {
		log.Printf("daemon: close indicator on tab %d: %v", tabID, err)
	}
}

func (s *Server) tabClosed(tabID int) {
	s.cancelRevert(tabID)
	s.detector.Forget(tabID)
	if err := s.store.Remove(tabID); err != nil {
		log.Printf("daemon: remove tab %d: %v", tabID, err)
	}
}

// scheduleRevert arms the stopped-to-monitoring timer for a tab. The
// history entry id pins the revert to this particular run; a newer run
// finishing in the meantime invalidates it.
func (s *Server) scheduleRevert(tabID int, entryID string) {
	delay := s.config().StoppedRevertDelay.Std()
	if delay <= 0 {
		delay = runstate.StoppedRevertDelay
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.reverts[tabID]; ok {
		t.Stop()
	}
	s.reverts[tabID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.reverts, tabID)
		s.mu.Unlock()
		if _, err := s.store.Mutate(tabID, func(ts *runstate.TabState) any {
			ts.RevertStopped(entryID)
			return nil
		}); err != nil && err != store.ErrTabNotFound {
			log.Printf("daemon: revert tab %d: %v", tabID, err)
		}
	})
}

func (s *Server) cancelRevert(tabID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.reverts[tabID]; ok {
		t.Stop()
		delete(s.reverts, tabID)
	}
}

// updateTicker starts the elapsed-time ticker when any tab is running and
// lets it die when none is. The ticker is the only writer of ElapsedTime
// between run events.
func (s *Server) updateTicker() {
	g, err := s.store.Snapshot()
	if err != nil {
		log.Printf("daemon: snapshot for ticker: %v", err)
		return
	}
	running := false
	for _, ts := range g {
		if ts.Status == runstate.StatusRunning {
			running = true
			break
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if running && s.tickStop == nil {
		stop := make(chan struct{})
		s.tickStop = stop
		go s.tickLoop(stop)
	}
}

func (s *Server) tickLoop(stop chan struct{}) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			any := false
			if err := s.store.MutateAll(func(g runstate.Global) bool {
				for _, ts := range g {
					if ts.Tick(now) {
						any = true
					}
				}
				return any
			}); err != nil {
				log.Printf("daemon: tick: %v", err)
			}
			if !any {
				s.mu.Lock()
				if s.tickStop == stop {
					s.tickStop = nil
				}
				s.mu.Unlock()
				return
			}
		}
	}
}

// focusTab asks a tab's page observer to bring its tab and window to the
// front. Used for notification clicks and dashboard navigation.
func (s *Server) focusTab(tabID, windowID int) {
	s.hub.SendToTab(tabID, protocol.Message{Type: protocol.TypeFocusTab, TabID: tabID, WindowID: windowID})
}

func (s *Server) match(url string) (string, bool) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.matcher.Match(url)
}

// watchConfig reloads the config file on change and pushes fresh busy
// selectors to connected page observers.
func (s *Server) watchConfig(ctx context.Context, path string) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("daemon: config watcher: %v", err)
		return
	}
	defer w.Close()

	// Watch the directory; editors replace the file on save, which drops
	// a watch on the file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		log.Printf("daemon: watch %s: %v", filepath.Dir(path), err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			cfg, err := config.Load(path)
			if err != nil {
				log.Printf("daemon: reload config: %v", err)
				continue
			}
			s.applyConfig(cfg)
			log.Printf("daemon: config reloaded from %s", path)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("daemon: config watcher: %v", err)
		}
	}
}

func (s *Server) applyConfig(cfg *config.Config) {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.matcher = site.NewMatcher(cfg.Sites)
	s.cfgMu.Unlock()

	s.mu.Lock()
	pages := make(map[*broadcast.Conn]string, len(s.pages))
	for bc, url := range s.pages {
		pages[bc] = url
	}
	s.mu.Unlock()

	for bc, url := range pages {
		selector, _ := s.match(url)
		// An empty selector tells the observer to stop watching.
		if err := bc.Send(protocol.Message{Type: protocol.TypeWatchSelector, Selector: selector}); err != nil {
			log.Printf("daemon: push selector to tab %d: %v", bc.TabID, err)
		}
	}
}

// hubSender surfaces notifications through connected observers so the
// extension can render an actionable chrome notification.
type hubSender struct {
	hub *broadcast.Hub
}

func (h hubSender) Send(id, title, body string) error {
	h.hub.Broadcast(protocol.Message{
		Type:           protocol.TypeNotify,
		NotificationID: id,
		Title:          title,
		Body:           body,
	})
	return nil
}
