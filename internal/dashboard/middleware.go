package dashboard

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Printf("[dashboard] %s %s status=%d bytes=%d request_id=%s remote=%s duration=%s",
			r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), reqID, r.RemoteAddr, time.Since(start).Round(time.Millisecond))
	})
}
