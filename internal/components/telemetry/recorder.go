package telemetry

import (
	"strings"
	"sync"
)

type Report struct {
	ID     string
	Params []any
}

// Recorder is an API that keeps everything reported to it in memory, it is meant
// to be used by tests.
type Recorder struct {
	mutex    sync.Mutex
	broken   []Report
	warnings []Report
	debug    []Report
	counts   map[string]int64
}

func NewRecorder() *Recorder {
	return &Recorder{counts: map[string]int64{}}
}

func (r *Recorder) ReportBroken(id string, params ...any) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.broken = append(r.broken, Report{ID: id, Params: params})
}

func (r *Recorder) ReportWarning(id string, params ...any) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.warnings = append(r.warnings, Report{ID: id, Params: params})
}

func (r *Recorder) ReportDebug(msg string, params ...any) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.debug = append(r.debug, Report{ID: msg, Params: params})
}

func (r *Recorder) ReportCount(id string, count int64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.counts[id] = count
}

func (r *Recorder) Broken() []Report {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]Report(nil), r.broken...)
}

func (r *Recorder) Warnings() []Report {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]Report(nil), r.warnings...)
}

func (r *Recorder) Count(id string) int64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.counts[id]
}

// HasWarning returns true if any warning id ends with the given suffix, scoped
// ids carry their namespace as a prefix.
func (r *Recorder) HasWarning(suffix string) bool {
	for _, w := range r.Warnings() {
		if strings.HasSuffix(w.ID, suffix) {
			return true
		}
	}
	return false
}

func (r *Recorder) HasBroken(suffix string) bool {
	for _, b := range r.Broken() {
		if strings.HasSuffix(b.ID, suffix) {
			return true
		}
	}
	return false
}
