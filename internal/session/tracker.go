// Package session reconstructs device sessions from the uplink stream.
//
// A session is keyed by DevAddr and lives while the frame counter keeps
// moving forward. A counter reset, a forward jump beyond the allowed gap or
// an idle period longer than the timeout ends it; the next packet opens a
// new session with a fresh id.
package session

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-analyzer/internal/models"
)

// Config tunes session continuity
type Config struct {
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	MaxForwardGap  uint32
	ResetTolerance uint32
	JoinWindow     time.Duration
	Shards         int
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:    6 * time.Hour,
		SweepInterval:  time.Minute,
		MaxForwardGap:  16384,
		ResetTolerance: 1,
		JoinWindow:     time.Minute,
		Shards:         16,
	}
}

// joinFCntLimit bounds the first frame counter of a session that may adopt
// a pending join; devices restart counting after a join.
const joinFCntLimit = 16

// Session is one live device activation
type Session struct {
	DevAddr   string    `json:"devAddr"`
	DevEUI    string    `json:"devEui,omitempty"`
	SessionID string    `json:"sessionId"`
	LastFCnt  *uint32   `json:"lastFCnt,omitempty"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
	Packets   uint64    `json:"packets"`
}

// Result is what the tracker attaches to a packet
type Result struct {
	SessionID string
	DevEUI    string
	New       bool
}

type shard struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

type pendingJoin struct {
	devEUI string
	at     time.Time
}

// Tracker owns the session table.
type Tracker struct {
	cfg    Config
	shards []*shard

	joinMu sync.Mutex
	joins  []pendingJoin

	now   func() time.Time
	newID func() string
}

// NewTracker creates a tracker. Zero durations, gap and shard count take
// their defaults; a zero ResetTolerance is kept.
func NewTracker(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.MaxForwardGap == 0 {
		cfg.MaxForwardGap = def.MaxForwardGap
	}
	if cfg.JoinWindow <= 0 {
		cfg.JoinWindow = def.JoinWindow
	}
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}

	t := &Tracker{
		cfg:    cfg,
		shards: make([]*shard, cfg.Shards),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for i := range t.shards {
		t.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return t
}

func (t *Tracker) shardFor(devAddr string) *shard {
	h := fnv.New32a()
	h.Write([]byte(devAddr))
	return t.shards[h.Sum32()%uint32(len(t.shards))]
}

// Process runs one packet through the state machine. Uplinks carrying a
// DevAddr continue or open a session; join requests are remembered so the
// next new session can adopt their DevEUI; downlinks only read the table.
func (t *Tracker) Process(p *models.Packet) Result {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = t.now()
	}
	devAddr := strings.ToLower(p.DevAddr)

	switch {
	case p.PacketType == models.PacketTypeJoin:
		if p.DevEUI != "" {
			t.rememberJoin(strings.ToLower(p.DevEUI), ts)
		}
		return Result{DevEUI: p.DevEUI}

	case p.PacketType == models.PacketTypeDownlink && devAddr != "":
		s := t.shardFor(devAddr)
		s.mu.Lock()
		defer s.mu.Unlock()
		if sess, ok := s.sessions[devAddr]; ok {
			return Result{SessionID: sess.SessionID, DevEUI: sess.DevEUI}
		}
		return Result{}

	case p.PacketType != models.PacketTypeData || devAddr == "":
		return Result{}
	}

	s := t.shardFor(devAddr)
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[devAddr]
	if ok && t.continues(sess, p.FCnt) {
		sess.LastSeen = ts
		sess.Packets++
		if p.FCnt != nil && t.advances(sess, *p.FCnt) {
			fcnt := *p.FCnt
			sess.LastFCnt = &fcnt
		}
		if sess.DevEUI == "" && p.DevEUI != "" {
			sess.DevEUI = strings.ToLower(p.DevEUI)
		}
		return Result{SessionID: sess.SessionID, DevEUI: sess.DevEUI}
	}

	if ok {
		log.Debug().
			Str("devAddr", devAddr).
			Str("session", sess.SessionID).
			Interface("lastFCnt", sess.LastFCnt).
			Interface("fCnt", p.FCnt).
			Msg("Frame counter discontinuity, starting new session")
	}

	next := &Session{
		DevAddr:   devAddr,
		SessionID: t.newID(),
		FirstSeen: ts,
		LastSeen:  ts,
		Packets:   1,
	}
	if p.FCnt != nil {
		fcnt := *p.FCnt
		next.LastFCnt = &fcnt
	}
	switch {
	case p.DevEUI != "":
		next.DevEUI = strings.ToLower(p.DevEUI)
	case p.FCnt == nil || *p.FCnt < joinFCntLimit:
		next.DevEUI = t.claimJoin(ts)
	}
	s.sessions[devAddr] = next

	return Result{SessionID: next.SessionID, DevEUI: next.DevEUI, New: true}
}

// Enrich stores the tracker result on p. A DevEUI already on the packet is
// kept.
func (t *Tracker) Enrich(p *models.Packet) {
	res := t.Process(p)
	if res.SessionID != "" {
		p.SessionID = res.SessionID
	}
	if p.DevEUI == "" && res.DevEUI != "" {
		p.DevEUI = res.DevEUI
	}
}

// continues reports whether fcnt belongs to sess.
func (t *Tracker) continues(sess *Session, fcnt *uint32) bool {
	if fcnt == nil || sess.LastFCnt == nil {
		return true
	}
	fwd, back := counterDelta(*sess.LastFCnt, *fcnt)
	if fwd == 0 || back <= t.cfg.ResetTolerance {
		return true
	}
	return fwd <= t.cfg.MaxForwardGap
}

// advances reports whether fcnt moves the counter forward.
func (t *Tracker) advances(sess *Session, fcnt uint32) bool {
	if sess.LastFCnt == nil {
		return true
	}
	fwd, _ := counterDelta(*sess.LastFCnt, fcnt)
	return fwd != 0 && fwd <= t.cfg.MaxForwardGap
}

// counterDelta returns the forward and backward distance from last to cur.
// Over-the-air counters are 16 bits wide and wrap.
func counterDelta(last, cur uint32) (fwd, back uint32) {
	if last <= 0xFFFF && cur <= 0xFFFF {
		return (cur - last) & 0xFFFF, (last - cur) & 0xFFFF
	}
	return cur - last, last - cur
}

func (t *Tracker) rememberJoin(devEUI string, at time.Time) {
	t.joinMu.Lock()
	defer t.joinMu.Unlock()

	for i := range t.joins {
		if t.joins[i].devEUI == devEUI {
			t.joins = append(t.joins[:i], t.joins[i+1:]...)
			break
		}
	}
	t.joins = append(t.joins, pendingJoin{devEUI: devEUI, at: at})
}

// claimJoin takes the most recent join within the window before at.
func (t *Tracker) claimJoin(at time.Time) string {
	t.joinMu.Lock()
	defer t.joinMu.Unlock()

	for i := len(t.joins) - 1; i >= 0; i-- {
		j := t.joins[i]
		if j.at.After(at) {
			continue
		}
		if at.Sub(j.at) > t.cfg.JoinWindow {
			break
		}
		t.joins = append(t.joins[:i], t.joins[i+1:]...)
		return j.devEUI
	}
	return ""
}

// Sweep removes sessions idle since before now-IdleTimeout and returns how
// many were removed. Each shard is swept under its own lock, the same lock
// Process takes.
func (t *Tracker) Sweep(now time.Time) int {
	cutoff := now.Add(-t.cfg.IdleTimeout)
	removed := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for addr, sess := range s.sessions {
			if sess.LastSeen.Before(cutoff) {
				delete(s.sessions, addr)
				removed++
			}
		}
		s.mu.Unlock()
	}

	joinCutoff := now.Add(-t.cfg.JoinWindow)
	t.joinMu.Lock()
	kept := t.joins[:0]
	for _, j := range t.joins {
		if !j.at.Before(joinCutoff) {
			kept = append(kept, j)
		}
	}
	t.joins = kept
	t.joinMu.Unlock()

	return removed
}

// Run sweeps on every SweepInterval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(t.now()); n > 0 {
				log.Debug().
					Int("expired", n).
					Int("active", t.Len()).
					Msg("Expired idle sessions")
			}
		}
	}
}

// Get returns a copy of the session for devAddr.
func (t *Tracker) Get(devAddr string) (Session, bool) {
	devAddr = strings.ToLower(devAddr)
	s := t.shardFor(devAddr)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[devAddr]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Len is the number of live sessions
func (t *Tracker) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.sessions)
		s.mu.Unlock()
	}
	return n
}
