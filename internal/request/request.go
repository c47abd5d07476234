// Package reqsource provides the Request Source collaborator (spec
// section 6): an iterable of requests with an optional finite length,
// plus two concrete sources supplementing the distilled spec's dataset
// loader (synthetic generation and a newline-delimited JSON file reader).
package reqsource

import "github.com/windrose-ai/genbench/internal/backend"

// Source is the Request Source interface from spec section 6. Next
// returns false once exhausted. Len reports a finite size when known, so
// the Scheduler can cap end_number (spec section 4.5 step 4).
type Source interface {
	Next() (backend.Request, bool)
	Len() (int, bool)
}
