// Package stats holds the kernel's lightweight performance counters
// and a pprof exporter for the scheduler's per-thread accounting
// rings. Grounded on the teacher's Counter_t/Cycles_t, with the
// teacher's runtime.Rdtsc() cycle source replaced by a monotonic clock
// (no patched Go runtime is available here — see DESIGN.md) and a new
// DumpPprofRing wiring the github.com/google/pprof/profile writer the
// domain stack calls for.
package stats

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/google/pprof/profile"
)

const Stats = false
const Timing = false

var Nirqs [100]int
var Irqs int

// Rdtsc returns a monotonic nanosecond timestamp when timing is
// enabled, standing in for the teacher's cycle counter read.
func Rdtsc() uint64 {
	if Timing {
		return uint64(time.Now().UnixNano())
	}
	return 0
}

// Counter_t is a statistical counter.
type Counter_t int64

// Cycles_t holds an elapsed-nanosecond accumulator.
type Cycles_t int64

// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

// Add adds elapsed time since the sample at m to the counter.
func (c *Cycles_t) Add(m uint64) {
	if Timing {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, int64(Rdtsc()-m))
	}
}

// Stats2String converts a struct of counters to a printable string.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}

// RingSample is one accounting-ring entry rendered flat, ready to
// become a pprof sample: which thread ran, for how long, and when it
// was switched out.
type RingSample struct {
	Tid       int
	Nanos     int64
	Timestamp time.Time
}

// DumpPprofRing renders a set of scheduler accounting-ring samples as
// a pprof profile.proto (one "cpu" sample type, one location per tid),
// so a running kernel's scheduler history can be piped into
// `pprof -http`.
func DumpPprofRing(samples []RingSample) ([]byte, error) {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "cpu", Unit: "nanoseconds"}},
		TimeNanos:  time.Now().UnixNano(),
	}

	funcsByTid := map[int]*profile.Function{}
	locsByTid := map[int]*profile.Location{}
	var nextID uint64 = 1

	for _, s := range samples {
		fn, ok := funcsByTid[s.Tid]
		if !ok {
			fn = &profile.Function{ID: nextID, Name: fmt.Sprintf("tid-%d", s.Tid)}
			nextID++
			funcsByTid[s.Tid] = fn
			p.Function = append(p.Function, fn)
		}
		loc, ok := locsByTid[s.Tid]
		if !ok {
			loc = &profile.Location{
				ID:   nextID,
				Line: []profile.Line{{Function: fn}},
			}
			nextID++
			locsByTid[s.Tid] = loc
			p.Location = append(p.Location, loc)
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{s.Nanos},
		})
	}

	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
