package httpmw

import (
	"net/http"
	"slices"
)

// Chain wraps h so that mws run in order, mws[0] first. nil entries are
// skipped, so optional stages can be passed inline.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for _, mw := range slices.Backward(mws) {
		if mw != nil {
			h = mw(h)
		}
	}
	return h
}
