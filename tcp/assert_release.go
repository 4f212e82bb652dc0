//go:build !tcpdebug

package tcp

const debugAssertEnabled = false

func (e *Engine) assertFinalized() {}
