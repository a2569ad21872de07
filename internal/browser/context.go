// internal/browser/context.go
package browser

import "context"

// CombineContext returns a context that carries the values of parent (the
// chromedp target) and is cancelled when either parent or op is done.
func CombineContext(parent, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(op, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
