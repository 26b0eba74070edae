package pprof

import (
	"net/http"
	"net/http/pprof"
)

// HandlerPrefix is where Register mounts the profiling endpoints.
const HandlerPrefix = "/debug/pprof/"

// Register mounts the standard profiling endpoints on mux.
func Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+HandlerPrefix, pprof.Index)
	mux.HandleFunc("GET "+HandlerPrefix+"cmdline", pprof.Cmdline)
	mux.HandleFunc("GET "+HandlerPrefix+"profile", pprof.Profile)
	mux.HandleFunc("GET "+HandlerPrefix+"symbol", pprof.Symbol)
	mux.HandleFunc("POST "+HandlerPrefix+"symbol", pprof.Symbol)
	mux.HandleFunc("GET "+HandlerPrefix+"trace", pprof.Trace)
}
