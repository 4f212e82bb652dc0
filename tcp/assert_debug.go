//go:build tcpdebug

package tcp

const debugAssertEnabled = true

// assertFinalized panics if called on an accepted child whose timer
// ownership has not yet migrated from its parent listener via Finalize.
// Only compiled in with the tcpdebug build tag, mirroring the teacher's
// debugheaplog tag pair for opt-in runtime checks that would be too costly
// to carry unconditionally.
func (e *Engine) assertFinalized() {
	if e.parent != nil && e.ctx.timerOwner == TimerRegisteredByParent {
		panic("tcp: method called on an accepted connection before Finalize")
	}
}
