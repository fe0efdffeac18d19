package http

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Middleware guards next with the payment state machine. next runs at most
// once, and only after the facilitator settled the payment.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := RequestInfoFromHTTP(r)
		decision := g.Process(r.Context(), info)

		switch decision.Kind {
		case DecisionPassThrough:
			next.ServeHTTP(w, r)
			return
		case DecisionSettled:
		default:
			decision.Write(w)
			return
		}

		decision.Write(w)
		sw := &settledWriter{ResponseWriter: w}
		defer func() {
			p := recover()
			if p == nil {
				if sw.status >= http.StatusInternalServerError {
					g.HandlerFailed(decision, info, fmt.Errorf("handler responded with status %d", sw.status))
				}
				return
			}

			body := g.HandlerFailed(decision, info, fmt.Errorf("handler panicked: %v", p))
			if p == http.ErrAbortHandler {
				panic(p)
			}
			if !sw.wroteHeader {
				writeJSON(w, http.StatusInternalServerError, body)
			}
		}()
		next.ServeHTTP(sw, r)
	})
}

// settledWriter records whether and with which status the handler responded.
type settledWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *settledWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *settledWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *settledWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		if !w.wroteHeader {
			w.WriteHeader(http.StatusOK)
		}
		f.Flush()
	}
}

func (w *settledWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("x402http: response writer does not support hijacking")
}

func (w *settledWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
