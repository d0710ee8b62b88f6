// Package except implements the exception/destructor-stack machinery
// (component Z): typed exceptions with a single-parent hierarchy,
// try/catch/finally, and a per-call destructor stack that runs on
// either normal exit or unwind. Grounded on
// original_source/libk/exception.c's frame state machine and
// dtor_frame snapshot/restore; reexpressed as defer/recover instead of
// setjmp/longjmp and TLS, since Go already gives every goroutine its
// own stack and panic/recover its own unwind primitive.
package except

import "fmt"

// Def is one node in the exception type hierarchy. Throwable is the
// root; every other Def names its parent, exactly as
// original_source's EXCEPTION_DEF(type, parent) macro does.
type Def struct {
	Name   string
	Parent *Def
}

var (
	Throwable         = &Def{Name: "Throwable"}
	Exception         = &Def{Name: "Exception", Parent: Throwable}
	Error             = &Def{Name: "Error", Parent: Throwable}
	RuntimeException  = &Def{Name: "RuntimeException", Parent: Exception}
	InvalidPointer    = &Def{Name: "InvalidPointer", Parent: RuntimeException}
	FileNotFound      = &Def{Name: "FileNotFound", Parent: Exception}
	FileOverflow      = &Def{Name: "FileOverflow", Parent: Exception}
	Timeout           = &Def{Name: "Timeout", Parent: Exception}
	OutOfMemory       = &Def{Name: "OutOfMemory", Parent: Error}
	ElfException      = &Def{Name: "ElfException", Parent: Exception}
	BlockException         = &Def{Name: "BlockException", Parent: Exception}
	BlockAlignmentException = &Def{Name: "BlockAlignmentException", Parent: BlockException}
	IntBoundsException     = &Def{Name: "IntBoundsException", Parent: Exception}
)

// Cause is a live, thrown exception: its type plus the call site and
// message the thrower supplied.
type Cause struct {
	Type    *Def
	File    string
	Line    int
	Message string
}

func (c *Cause) String() string {
	return fmt.Sprintf("%s: %s (%s:%d)", c.Type.Name, c.Message, c.File, c.Line)
}

// Throw raises an exception of the given type. It never returns;
// implemented as a Go panic carrying *Cause, caught only by Try's
// recover or propagated to the goroutine's top if nothing catches it.
func Throw(typ *Def, file string, line int, format string, args ...interface{}) {
	panic(&Cause{Type: typ, File: file, Line: line, Message: fmt.Sprintf(format, args...)})
}

// Rethrow re-raises a cause already caught by a handler, clearing
// whatever "caught" bookkeeping the handler's match performed (spec
// §4.Z: "rethrow clears the caught flag").
func Rethrow(c *Cause) {
	panic(c)
}

// Matches reports whether cause's type is def or a descendant of def
// in the single-parent hierarchy (original_source's exception_match,
// walking cause->type->parent chain comparing names).
func Matches(def *Def, cause *Cause) bool {
	if cause == nil {
		return false
	}
	for t := cause.Type; t != nil; t = t.Parent {
		if t == def {
			return true
		}
	}
	return false
}

// dtorEnt is one registered destructor: always-run destructors fire
// on both normal exit and unwind; exception-only destructors fire
// only when the enclosing Try is unwinding from a throw. fn is nil'd
// out by Cancel once the guarded resource has already been released
// along the normal path, so a later unwind does not release it twice —
// the Go analogue of original_source's exception_onerror_pop.
type dtorEnt struct {
	fn        func()
	alwaysRun bool
}

// Stack is a per-thread destructor stack. sched.Thread owns one;
// tests may construct their own.
type Stack struct {
	dtors []*dtorEnt
}

// mark snapshots the stack depth, the Go analogue of
// original_source's dtor_poll_frame() called at try-entry.
func (s *Stack) mark() int { return len(s.dtors) }

// Defer registers fn to run when this stack unwinds past the current
// mark, whether by normal return or by an exception — "always".
func (s *Stack) Defer(fn func()) {
	s.dtors = append(s.dtors, &dtorEnt{fn: fn, alwaysRun: true})
}

// DeferOnError registers fn to run only if the enclosing Try is
// unwinding because of a throw — "exception-only". The returned
// Cancel must be called once fn's effect has already happened via
// some other path (e.g. an explicit, non-exceptional unlock), so the
// entry does not fire again if the stack later unwinds past it.
func (s *Stack) DeferOnError(fn func()) (cancel func()) {
	ent := &dtorEnt{fn: fn, alwaysRun: false}
	s.dtors = append(s.dtors, ent)
	return func() { ent.fn = nil }
}

// unwind runs every destructor pushed since mark, innermost first,
// respecting each entry's always/exception-only tag, then truncates
// the stack back to mark.
func (s *Stack) unwind(mark int, threw bool) {
	for i := len(s.dtors) - 1; i >= mark; i-- {
		d := s.dtors[i]
		if d.fn != nil && (d.alwaysRun || threw) {
			d.fn()
		}
	}
	s.dtors = s.dtors[:mark]
}

// Handler matches one exception type to a body run when Try catches
// it.
type Handler struct {
	Type *Def
	Do   func(c *Cause)
}

// Try runs body, pushing a destructor-stack checkpoint first. If body
// panics with a *Cause, the destructors pushed since the checkpoint
// run (exception-only ones included), then the first matching handler
// runs; if none match, the cause propagates. If body panics with
// anything else, destructors still unwind but the panic is never
// treated as one of ours. finally, if non-nil, always runs last
// regardless of outcome — spec §4.Z's "finally always runs".
func Try(s *Stack, body func(), finally func(), handlers ...Handler) {
	mark := s.mark()
	if finally != nil {
		defer finally()
	}
	func() {
		defer func() {
			r := recover()
			if r == nil {
				s.unwind(mark, false)
				return
			}
			cause, ok := r.(*Cause)
			if !ok {
				s.unwind(mark, true)
				panic(r)
			}
			s.unwind(mark, true)
			for _, h := range handlers {
				if Matches(h.Type, cause) {
					h.Do(cause)
					return
				}
			}
			panic(cause)
		}()
		body()
	}()
}
