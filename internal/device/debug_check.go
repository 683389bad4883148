//go:build ziskdebug

package device

// arithDebugChecks turns on the expensive self-checks on arithmetic
// results that have no cheap independent post-check. Enabled only under
// the ziskdebug build tag; release builds compile the checks out.
const arithDebugChecks = true
