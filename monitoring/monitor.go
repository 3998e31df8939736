// Package monitoring serves the live state of a running system over HTTP.
package monitoring

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/syifan/goseth"

	"github.com/sarchlab/mesisim/bus"
	"github.com/sarchlab/mesisim/cache"
	"github.com/sarchlab/mesisim/core"
	"github.com/sarchlab/mesisim/system"
)

// Monitor turns a system into an HTTP server that reports caches, cores
// and bus traffic.
type Monitor struct {
	system     *system.System
	portNumber int
	router     *mux.Router
	server     *http.Server
}

// NewMonitor creates a monitor for s.
func NewMonitor(s *system.System) *Monitor {
	m := &Monitor{system: s}
	m.router = m.newRouter()
	return m
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// replaced by a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// Handler returns the HTTP handler serving the API.
func (m *Monitor) Handler() http.Handler {
	return m.router
}

func (m *Monitor) newRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/caches", m.listCaches).Methods(http.MethodGet)
	r.HandleFunc("/api/cache/{id:[0-9]+}", m.cacheDetails).Methods(http.MethodGet)
	r.HandleFunc("/api/cache/{id:[0-9]+}/line/{addr}", m.cacheLine).
		Methods(http.MethodGet)
	r.HandleFunc("/api/cores", m.listCores).Methods(http.MethodGet)
	r.HandleFunc("/api/bus", m.busStats).Methods(http.MethodGet)
	r.HandleFunc("/api/coherence", m.coherence).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", m.collectProfile).Methods(http.MethodGet)

	return r
}

// StartServer listens on the configured port and serves in the background.
// It returns the address actually bound.
func (m *Monitor) StartServer() (string, error) {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", fmt.Errorf("failed to start monitoring server: %w", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	fmt.Fprintf(os.Stderr,
		"Monitoring simulation with http://localhost:%d\n", port)

	m.server = &http.Server{
		Handler:           m.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "monitoring server stopped: %v\n", err)
		}
	}()

	return listener.Addr().String(), nil
}

// StopServer shuts the server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

type cacheSummary struct {
	ID    int              `json:"id"`
	Stats cache.Statistics `json:"stats"`
}

// cacheView is the snapshot handed to the serializer, so it never walks
// live cache state.
type cacheView struct {
	ID     int
	Config cache.Config
	Stats  cache.Statistics
	Lines  []lineView
}

type lineView struct {
	Address string   `json:"address"`
	Tag     uint64   `json:"tag"`
	Valid   bool     `json:"valid"`
	Dirty   bool     `json:"dirty"`
	State   string   `json:"state"`
	Words   []uint64 `json:"words"`
}

func newLineView(l cache.Line) lineView {
	words := make([]uint64, len(l.Data)/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(l.Data[i*8:])
	}

	return lineView{
		Address: fmt.Sprintf("0x%x", l.Address),
		Tag:     l.Tag,
		Valid:   l.Valid,
		Dirty:   l.Dirty,
		State:   l.State.String(),
		Words:   words,
	}
}

func (m *Monitor) listCaches(w http.ResponseWriter, _ *http.Request) {
	caches := m.system.Caches()
	rsp := make([]cacheSummary, len(caches))
	for i, c := range caches {
		rsp[i] = cacheSummary{ID: c.ID(), Stats: c.Stats()}
	}

	writeJSON(w, rsp)
}

func (m *Monitor) findCacheOr404(
	w http.ResponseWriter,
	r *http.Request,
) *cache.Cache {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id < 0 || id >= m.system.NumCores() {
		http.Error(w, "Cache not found", http.StatusNotFound)
		return nil
	}

	return m.system.Cache(id)
}

func (m *Monitor) cacheDetails(w http.ResponseWriter, r *http.Request) {
	c := m.findCacheOr404(w, r)
	if c == nil {
		return
	}

	view := &cacheView{
		ID:     c.ID(),
		Config: c.Config(),
		Stats:  c.Stats(),
	}
	for _, l := range c.Lines() {
		view.Lines = append(view.Lines, newLineView(l))
	}

	buf := new(bytes.Buffer)
	serializer := goseth.NewSerializer()
	serializer.SetRoot(view)
	serializer.SetMaxDepth(3)
	if err := serializer.Serialize(buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf.Bytes())
}

func (m *Monitor) cacheLine(w http.ResponseWriter, r *http.Request) {
	c := m.findCacheOr404(w, r)
	if c == nil {
		return
	}

	addr, err := strconv.ParseUint(mux.Vars(r)["addr"], 0, 64)
	if err != nil {
		http.Error(w, "Bad address", http.StatusBadRequest)
		return
	}

	l, ok := c.Line(addr)
	if !ok {
		http.Error(w, "Line not cached", http.StatusNotFound)
		return
	}

	writeJSON(w, newLineView(l))
}

func (m *Monitor) listCores(w http.ResponseWriter, _ *http.Request) {
	rsp := make([]core.Stats, m.system.NumCores())
	for i := range rsp {
		rsp[i] = m.system.Core(i).Stats()
	}

	writeJSON(w, rsp)
}

type busRsp struct {
	Stats     bus.Statistics `json:"stats"`
	QueueSize int            `json:"queue_size"`
}

func (m *Monitor) busStats(w http.ResponseWriter, _ *http.Request) {
	b := m.system.Bus()
	writeJSON(w, busRsp{
		Stats:     b.Stats(),
		QueueSize: b.Queue().Size(),
	})
}

type coherenceRsp struct {
	Coherent   bool               `json:"coherent"`
	Violations []system.Violation `json:"violations,omitempty"`
}

func (m *Monitor) coherence(w http.ResponseWriter, _ *http.Request) {
	rsp := coherenceRsp{Coherent: true}

	var cerr *system.CoherenceError
	if err := m.system.CheckCoherence(); errors.As(err, &cerr) {
		rsp.Coherent = false
		rsp.Violations = cerr.Violations
	}

	writeJSON(w, rsp)
}

func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second
	if ms := r.URL.Query().Get("ms"); ms != "" {
		n, err := strconv.Atoi(ms)
		if err != nil || n <= 0 {
			http.Error(w, "Bad duration", http.StatusBadRequest)
			return
		}
		duration = time.Duration(n) * time.Millisecond
	}

	buf := bytes.NewBuffer(nil)
	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(duration)
	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
