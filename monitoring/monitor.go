// Package monitoring serves the state of a running simulation over HTTP.
package monitoring

import (
	"bytes"
	"context"
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
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/syifan/goseth"

	"github.com/sarchlab/pfsim/timing/core"
	"github.com/sarchlab/pfsim/timing/prefetch"
)

// Target is the simulation a Monitor reports on. *core.Driver implements it.
type Target interface {
	Stats() core.Stats
	Inspect(fn func(p prefetch.Prefetcher))
}

// Monitor can turn a simulation into a server and allows external
// inspection of the simulation while it runs.
type Monitor struct {
	target      Target
	portNumber  int
	openBrowser bool
	logger      logrus.FieldLogger

	server *http.Server
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{logger: logrus.StandardLogger()}
}

// WithPortNumber sets the port number of the monitor. Ports up to 1000 pick
// a free port instead.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	m.portNumber = portNumber
	return m
}

// WithBrowser makes StartServer open the monitor in a web browser.
func (m *Monitor) WithBrowser(open bool) *Monitor {
	m.openBrowser = open
	return m
}

// WithLogger sets the logger the monitor reports to.
func (m *Monitor) WithLogger(logger logrus.FieldLogger) *Monitor {
	m.logger = logger
	return m
}

// RegisterTarget sets the simulation to monitor.
func (m *Monitor) RegisterTarget(t Target) {
	m.target = t
}

// Router returns the handler serving the monitor API.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/stats", m.listStats).Methods(http.MethodGet)
	r.HandleFunc("/api/prefetcher", m.dumpPrefetcher).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", m.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", m.collectProfile).Methods(http.MethodGet)

	return r
}

// StartServer starts serving in the background and returns the URL of the
// monitor.
func (m *Monitor) StartServer() (string, error) {
	if m.target == nil {
		return "", errors.New("monitor has no target")
	}

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", fmt.Errorf("failed to listen for monitor: %w", err)
	}

	url := fmt.Sprintf("http://localhost:%d/api/stats",
		listener.Addr().(*net.TCPAddr).Port)

	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.WithError(err).Error("monitor stopped")
		}
	}()

	m.logger.WithField("url", url).Info("monitoring simulation")

	if m.openBrowser {
		if err := browser.OpenURL(url); err != nil {
			m.logger.WithError(err).Warn("failed to open browser")
		}
	}

	return url, nil
}

// StopServer shuts the server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
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

type statsRsp struct {
	core.Stats

	Coverage       float64 `json:"coverage"`
	Accuracy       float64 `json:"accuracy"`
	AverageLatency float64 `json:"average_latency"`
}

func (m *Monitor) listStats(w http.ResponseWriter, _ *http.Request) {
	stats := m.target.Stats()

	writeJSON(w, statsRsp{
		Stats:          stats,
		Coverage:       stats.Coverage(),
		Accuracy:       stats.Accuracy(),
		AverageLatency: stats.AverageLatency(),
	})
}

func (m *Monitor) dumpPrefetcher(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	var (
		state engineState
		err   error
	)
	m.target.Inspect(func(p prefetch.Prefetcher) {
		state, err = stateOf(p)
	})

	if err == nil {
		serializer := goseth.NewSerializer()
		serializer.SetRoot(state)
		serializer.SetMaxDepth(3)
		err = serializer.Serialize(buf)
	}

	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf.Bytes())
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memory, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memory.RSS,
	})
}

// collectProfile samples the CPU for ?seconds= (default 1) and returns the
// parsed profile.
func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second
	if s := r.URL.Query().Get("seconds"); s != "" {
		seconds, err := strconv.ParseFloat(s, 64)
		if err != nil || seconds <= 0 {
			http.Error(w, "invalid seconds", http.StatusBadRequest)
			return
		}
		duration = time.Duration(seconds * float64(time.Second))
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
