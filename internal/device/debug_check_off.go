//go:build !ziskdebug

package device

const arithDebugChecks = false
