package sessions

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
	"zhihu-archive/internal/assert"
	"zhihu-archive/internal/components/telemetry"

	"go.opentelemetry.io/otel"
)

const (
	report_pool_load   = "pool.load"
	report_pool_rotate = "pool.rotate"
	report_pool_size   = "pool.size"
)

var meter = otel.Meter("zhihu-archive/sessions")
var rotationCounter, _ = meter.Int64Counter("session_rotations")

// Source is one raw credential document.
type Source struct {
	Name string
	Data []byte
}

// Pool is an ordered set of sessions with a cursor, the cursor is the only
// state shared between concurrent fetches.
type Pool struct {
	tel telemetry.API

	mutex    sync.RWMutex
	rng      *rand.Rand
	sessions []Session
	cursor   int
}

// NewPool creates an empty pool, `rng` decides the shuffle order and may be
// nil in which case it is seeded from the clock.
func NewPool(rng *rand.Rand, tel telemetry.API) *Pool {
	assert.NotNil(tel)
	if rng == nil {
		now := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(now, now>>7))
	}
	return &Pool{
		tel: telemetry.NewScopedAPI("sessions", tel),
		rng: rng,
	}
}

// Load replaces the whole pool with the valid, deduplicated and shuffled
// sessions parsed from `sources`. A source that fails to parse is skipped.
// It returns the number of sessions in the pool.
func (p *Pool) Load(sources []Source) int {
	seen := map[string]struct{}{}
	var loaded []Session
	for _, src := range sources {
		cookies, err := ParseCredentials(src.Data)
		if err != nil {
			p.tel.ReportWarning(report_pool_load, src.Name, err)
			continue
		}
		session := Session{Source: src.Name, Cookies: cookies}
		if !session.Valid() {
			p.tel.ReportDebug("skipping source without identity cookies", src.Name)
			continue
		}
		fp := session.fingerprint()
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		loaded = append(loaded, session)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.rng.Shuffle(len(loaded), func(i, j int) {
		loaded[i], loaded[j] = loaded[j], loaded[i]
	})
	p.sessions = loaded
	p.cursor = 0

	p.tel.ReportCount(report_pool_size, int64(len(loaded)))
	return len(loaded)
}

// Current returns the session at the cursor, ok is false in guest mode.
func (p *Pool) Current() (session Session, ok bool) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if len(p.sessions) == 0 {
		return Session{}, false
	}
	return p.sessions[p.cursor], true
}

// Rotate advances the cursor by exactly one position and returns the new
// current session, ok is false when the pool is empty.
func (p *Pool) Rotate() (session Session, ok bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.sessions) == 0 {
		return Session{}, false
	}
	p.cursor = (p.cursor + 1) % len(p.sessions)
	rotationCounter.Add(context.Background(), 1)
	p.tel.ReportDebug(report_pool_rotate, p.cursor, len(p.sessions))
	return p.sessions[p.cursor], true
}

func (p *Pool) HasSessions() bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return len(p.sessions) > 0
}

// Snapshot returns a copy of the sessions in pool order and the cursor.
func (p *Pool) Snapshot() ([]Session, int) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return append([]Session(nil), p.sessions...), p.cursor
}

// ReadSources reads credential documents from explicit files and from every
// *.json file inside `dirs`. Missing files and directories are ignored.
func ReadSources(files []string, dirs []string, tel telemetry.API) []Source {
	var paths []string
	paths = append(paths, files...)
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
		if err != nil {
			continue
		}
		sort.Strings(matches)
		paths = append(paths, matches...)
	}

	var sources []Source
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			tel.ReportWarning(report_pool_load, path, err)
			continue
		}
		sources = append(sources, Source{Name: filepath.Base(path), Data: data})
	}
	return sources
}

// Mask is a helper for tables which shows only the ends of a cookie value.
func Mask(value string) string {
	if len(value) <= 8 {
		return value
	}
	return value[:4] + "..." + value[len(value)-4:]
}
