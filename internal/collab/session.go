package collab

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"qcompose/internal/circuit"
	"qcompose/internal/history"
)

// Default timings.
const (
	DefaultDebounce    = 150 * time.Millisecond
	DefaultSuppressFor = 100 * time.Millisecond
)

// Transport delivers a message to the other members of the room.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Options tunes a Session. Zero values take the defaults.
type Options struct {
	Room         string
	ConnectionID string
	Debounce     time.Duration
	SuppressFor  time.Duration
	Scheduler    Scheduler
	Logger       *slog.Logger
}

// Session syncs one history store with a room. A session with a nil
// transport is standalone: it never sends and ignores everything it
// receives.
type Session struct {
	store     *history.Store[circuit.State]
	transport Transport
	sched     Scheduler
	log       *slog.Logger
	room      string
	debounce  time.Duration
	suppress  time.Duration

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	connID      string
	baseline    string
	suppressed  bool
	pending     Timer
	pendingGen  uint64
	release     Timer
	releaseGen  uint64
	lastSeq     uint64
	peers       map[string]*Cursor
	cursor      *Cursor
	started     bool
	closed      bool
	unsubscribe func()
}

// NewSession binds store to transport.
func NewSession(store *history.Store[circuit.State], transport Transport, opts Options) *Session {
	s := &Session{
		store:     store,
		transport: transport,
		sched:     opts.Scheduler,
		log:       opts.Logger,
		room:      opts.Room,
		connID:    opts.ConnectionID,
		debounce:  opts.Debounce,
		suppress:  opts.SuppressFor,
		peers:     make(map[string]*Cursor),
	}
	if s.sched == nil {
		s.sched = SystemScheduler{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.debounce <= 0 {
		s.debounce = DefaultDebounce
	}
	if s.suppress <= 0 {
		s.suppress = DefaultSuppressFor
	}
	return s
}

// Start records the current placement as already shared and begins watching
// the store. It never broadcasts by itself.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.baseline = Fingerprint(s.store.Present().PlacedGates)
	standalone := s.transport == nil
	s.mu.Unlock()

	if standalone {
		return
	}
	unsub := s.store.Subscribe(s.onEvent)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsub()
		return
	}
	s.unsubscribe = unsub
	s.mu.Unlock()
}

// ConnectionID returns the id the relay assigned to this client.
func (s *Session) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

// Suppressed reports whether a remote update is still being absorbed.
func (s *Session) Suppressed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressed
}

func (s *Session) onEvent(ev history.Event[circuit.State]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.started || ev.Seq <= s.lastSeq {
		return
	}
	s.lastSeq = ev.Seq

	fp := Fingerprint(ev.Present.PlacedGates)
	if ev.Kind == history.EventReset {
		s.baseline = fp
		s.stopPending()
		return
	}
	if fp == s.baseline {
		return
	}
	s.baseline = fp
	if s.suppressed {
		return
	}

	s.stopPending()
	gen := s.pendingGen
	s.pending = s.sched.AfterFunc(s.debounce, func() { s.flush(gen) })
}

// stopPending cancels the debounced broadcast. Callers hold mu.
func (s *Session) stopPending() {
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.pendingGen++
}

func (s *Session) flush(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.pendingGen {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	ctx, connID := s.ctx, s.connID
	s.mu.Unlock()

	msg, err := NewUpdate(connID, s.room, s.store.Present().PlacedGates)
	if err != nil {
		s.log.Warn("collab: build update", "error", err)
		return
	}
	if err := s.transport.Send(ctx, msg); err != nil {
		s.log.Warn("collab: broadcast failed", "room", s.room, "error", err)
		return
	}
	s.log.Debug("collab: broadcast", "room", s.room, "gates", len(gjson.GetBytes(msg.Data, "gates").Array()))
}

// Receive handles one inbound relay message. Only foreign "update" gate
// operations change state; they replace the placed items without creating
// an undo step and open a short window in which resulting store changes are
// not broadcast back. Presence and cursor traffic update Peers.
func (s *Session) Receive(msg Message) {
	s.mu.Lock()
	if !s.started || s.closed || s.transport == nil {
		s.mu.Unlock()
		return
	}
	if msg.Type != TypeGateOpUpdate {
		s.track(msg)
		s.mu.Unlock()
		return
	}

	if msg.ConnectionID == s.connID || msg.Operation != OpUpdate {
		s.mu.Unlock()
		return
	}
	if !gjson.GetBytes(msg.Data, "gates").IsArray() {
		s.mu.Unlock()
		s.log.Debug("collab: update without gates", "from", msg.ConnectionID)
		return
	}
	var data UpdateData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		s.mu.Unlock()
		s.log.Warn("collab: decode update", "from", msg.ConnectionID, "error", err)
		return
	}

	s.suppressed = true
	if s.release != nil {
		s.release.Stop()
	}
	s.releaseGen++
	gen := s.releaseGen
	s.release = s.sched.AfterFunc(s.suppress, func() { s.endSuppression(gen) })
	s.stopPending()
	s.mu.Unlock()

	s.store.Update(func(present circuit.State) circuit.State {
		return circuit.FitRemote(present, data.Gates)
	}, false)
}

func (s *Session) endSuppression(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.releaseGen {
		return
	}
	s.suppressed = false
	s.release = nil
}

// Close stops both timers and detaches from the store.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopPending()
	if s.release != nil {
		s.release.Stop()
		s.release = nil
	}
	s.releaseGen++
	s.suppressed = false
	unsub, cancel := s.unsubscribe, s.cancel
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
}
