// Package webui serves a JSON API over a debug session.
package webui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mem-analysis/internal/formatter"
	"github.com/mem-analysis/internal/repository"
	"github.com/mem-analysis/internal/search"
	"github.com/mem-analysis/internal/session"
	"github.com/mem-analysis/pkg/address"
	apperrors "github.com/mem-analysis/pkg/errors"
	"github.com/mem-analysis/pkg/model"
	"github.com/mem-analysis/pkg/pprof"
	"github.com/mem-analysis/pkg/utils"
)

// MaxRegionDepth bounds the depth parameter of /api/regions.
const MaxRegionDepth = 8

// Server represents the API server
type Server struct {
	session   *session.Session
	snapshots repository.SnapshotRepository
	port      int
	logger    utils.Logger
	json      *formatter.JSONFormatter
	server    *http.Server
	pprof     bool
}

// NewServer creates a new API server for sess.
func NewServer(sess *session.Session, port int, logger utils.Logger) *Server {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Server{
		session: sess,
		port:    port,
		logger:  logger.WithField("component", "webui"),
		json:    formatter.NewJSONFormatter(false),
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
	}
}

// WithSnapshots enables the snapshot endpoints.
func (s *Server) WithSnapshots(repo repository.SnapshotRepository) *Server {
	s.snapshots = repo
	return s
}

// WithPprof mounts the Go profiling endpoints next to the API.
func (s *Server) WithPprof() *Server {
	s.pprof = true
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/regions", s.handleRegions)
	mux.HandleFunc("GET /api/query", s.handleQuery)
	mux.HandleFunc("GET /api/blocks", s.handleBlocks)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("POST /api/invalidate", s.handleInvalidate)

	if s.snapshots != nil {
		mux.HandleFunc("POST /api/snapshots", s.handleSaveSnapshot)
		mux.HandleFunc("GET /api/snapshots", s.handleListSnapshots)
		mux.HandleFunc("GET /api/snapshots/{id}/query", s.handleSnapshotQuery)
	}
	if s.pprof {
		pprof.Register(mux)
	}
	return mux
}

// Start starts the server and blocks until it stops. A shutdown is not
// an error, even one that happens before Start.
func (s *Server) Start() error {
	s.server.Handler = s.Handler()
	s.logger.Info("Starting API server at http://localhost:%d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleSummary returns the statistics of the current map
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	m, err := s.session.Map(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.setHeaders(w)
	s.json.Summary(w, formatter.MapSummary(m, s.session.BuiltAt()))
}

// handleRegions returns the top-level regions, optionally with children
func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	depth := 0
	if v := r.URL.Query().Get("depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 0 || d > MaxRegionDepth {
			s.writeError(w, apperrors.Newf(apperrors.CodeInvalidInput, "depth must be between 0 and %d", MaxRegionDepth))
			return
		}
		depth = d
	}

	ctx := r.Context()
	regions, err := s.session.Regions(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	records, err := formatter.RegionRecords(ctx, regions, depth, s.session.SubRegions)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.setHeaders(w)
	s.json.Regions(w, records)
}

// handleQuery returns the regions containing an address
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	addr, err := s.parseAddress(r.URL.Query().Get("address"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	stack, err := s.session.RegionsContaining(r.Context(), addr.Value())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.setHeaders(w)
	s.json.Stack(w, addr.String(), formatter.StackRecords(stack))
}

// handleBlocks returns the classified allocation blocks, or the block
// containing address
func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var records []model.BlockRecord
	if v := r.URL.Query().Get("address"); v != "" {
		addr, err := s.parseAddress(v)
		if err != nil {
			s.writeError(w, err)
			return
		}
		b, err := s.session.BlockAt(ctx, addr.Value())
		if err != nil {
			s.writeError(w, err)
			return
		}
		records = []model.BlockRecord{formatter.BlockRecord(b)}
	} else {
		blocks, err := s.session.Blocks(ctx)
		if err != nil {
			s.writeError(w, err)
			return
		}
		records = formatter.BlockRecords(blocks)
	}
	s.setHeaders(w)
	s.json.Blocks(w, records)
}

// handleSearch streams matches as JSON Lines
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	o, err := s.searchOptions(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			s.writeError(w, apperrors.New(apperrors.CodeInvalidInput, "invalid limit"))
			return
		}
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	flusher, _ := w.(http.Flusher)
	n := 0
	for m, err := range s.session.Search(r.Context(), o) {
		if err != nil {
			if n == 0 {
				s.writeError(w, err)
				return
			}
			s.logger.Warn("Search ended after %d matches: %v", n, err)
			return
		}
		if err := s.json.Match(w, formatter.MatchRecord(m)); err != nil {
			return
		}
		n++
		if flusher != nil {
			flusher.Flush()
		}
		if limit > 0 && n >= limit {
			return
		}
	}
}

func (s *Server) searchOptions(r *http.Request) (search.Options, error) {
	q := r.URL.Query()
	o := s.session.SearchDefaults()

	v := q.Get("value")
	if v == "" {
		return o, apperrors.New(apperrors.CodeInvalidInput, "value is required")
	}
	var err error
	if o.Value, err = address.ParseHex(v); err != nil {
		return o, err
	}
	if v := q.Get("mask"); v != "" {
		if o.Mask, err = address.ParseHex(v); err != nil {
			return o, err
		}
	}
	if o.Width, err = search.ParseWidth(q.Get("width")); err != nil {
		return o, err
	}
	for name, dst := range map[string]*uint64{"start": &o.Start, "end": &o.End} {
		if v := q.Get(name); v != "" {
			addr, err := s.parseAddress(v)
			if err != nil {
				return o, err
			}
			*dst = addr.Value()
		}
	}
	if types := q["type"]; len(types) > 0 {
		if o.MemTypes, err = search.ParseMemTypes(types); err != nil {
			return o, err
		}
	}
	if q.Get("read_only") == "true" {
		o.IncludeReadOnly = true
	}
	if q.Get("exclude_executable") == "true" {
		o.ExcludeExecutable = true
	}
	return o, nil
}

// handleInvalidate drops the cached map
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	ev, err := session.ParseEvent(r.URL.Query().Get("event"))
	if err != nil {
		s.writeError(w, apperrors.Wrap(apperrors.CodeInvalidInput, "invalid event", err))
		return
	}
	s.session.Invalidate(ev)
	w.WriteHeader(http.StatusNoContent)
}

// handleSaveSnapshot stores the current map under a name
func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		s.writeError(w, apperrors.New(apperrors.CodeInvalidInput, "name is required"))
		return
	}
	depth := 1
	if v := r.URL.Query().Get("depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 0 || d > MaxRegionDepth {
			s.writeError(w, apperrors.Newf(apperrors.CodeInvalidInput, "depth must be between 0 and %d", MaxRegionDepth))
			return
		}
		depth = d
	}

	ctx := r.Context()
	m, err := s.session.Map(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	records, err := formatter.RegionRecords(ctx, m.Regions(), depth, s.session.SubRegions)
	if err != nil {
		s.writeError(w, err)
		return
	}
	info, err := s.snapshots.SaveSnapshot(ctx, name, m.Is32Bit(), records)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Saved snapshot %s (%d regions)", info.Name, info.RegionCount)

	s.setHeaders(w)
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(info)
}

// handleListSnapshots lists stored snapshots, newest first
func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l < 1 {
			s.writeError(w, apperrors.New(apperrors.CodeInvalidInput, "invalid limit"))
			return
		}
		limit = l
	}
	snaps, err := s.snapshots.ListSnapshots(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.setHeaders(w)
	s.json.Snapshots(w, snaps)
}

// handleSnapshotQuery answers a containment query from a stored snapshot
func (s *Server) handleSnapshotQuery(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, apperrors.New(apperrors.CodeInvalidInput, "invalid snapshot id"))
		return
	}
	ctx := r.Context()
	info, _, err := s.snapshots.GetSnapshot(ctx, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	addr, err := address.Parse(r.URL.Query().Get("address"), info.Is32Bit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stack, err := s.snapshots.FindContaining(ctx, id, addr.Value())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.setHeaders(w)
	s.json.Stack(w, addr.String(), stack)
}

func (s *Server) parseAddress(v string) (address.Address, error) {
	if v == "" {
		return address.Address{}, apperrors.New(apperrors.CodeInvalidInput, "address is required")
	}
	return address.Parse(v, s.session.Target().Is32Bit())
}

func (s *Server) setHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

// errorDocument is the body of every failed request.
type errorDocument struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// statusFor maps an error code to an HTTP status.
func statusFor(err error) int {
	switch {
	case apperrors.IsInvalidInput(err):
		return http.StatusBadRequest
	case apperrors.IsNotFound(err):
		return http.StatusNotFound
	case apperrors.IsSymbolsUnavailable(err):
		return http.StatusServiceUnavailable
	case apperrors.IsCanceled(err), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed: %v", err)
	}
	s.setHeaders(w)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorDocument{Code: apperrors.GetErrorCode(err), Error: err.Error()})
}
