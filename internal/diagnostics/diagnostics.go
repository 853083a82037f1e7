// Package diagnostics implements the bridge's --diagnose CLI surface: a
// JSON platform/backend health report (spec §6.5).
package diagnostics

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"time"

	"github.com/kandev/acp-bridge/internal/acp"
	"github.com/kandev/acp-bridge/internal/backend"
	"github.com/kandev/acp-bridge/internal/logging"
)

// probeTimeout bounds how long --diagnose waits on the backend probe before
// reporting it as failed.
const probeTimeout = 5 * time.Second

// Report is the JSON document printed by --diagnose.
type Report struct {
	GeneratedAt string `json:"generatedAt"`
	GoVersion   string `json:"goVersion"`
	OS          string `json:"os"`
	Arch        string `json:"arch"`

	BackendMode    string `json:"backendMode"`
	BackendPath    string `json:"backendPath,omitempty"`
	BackendProbeOK bool   `json:"backendProbeOk"`
	BackendProbe   string `json:"backendProbeError,omitempty"`
	BackendVersion string `json:"backendVersion,omitempty"`

	ResourceGuardHealth string `json:"resourceGuardHealth"`
	CircuitBreakerState string `json:"circuitBreakerState"`
}

// Options configures what the report probes.
type Options struct {
	BackendMode    backend.Mode
	BackendPath    string
	BackendArgs    []string
	BackendEnv     []string
	HTTPConfig     backend.HTTPConfig
	Guard          *acp.ResourceGuard
	CircuitBreaker *acp.CircuitBreaker

	// Logger is used to construct the probed backend adapter. If nil, a
	// quiet console logger is used (--diagnose has no stdio wire protocol
	// to collide with, but there is also no reason to be chatty).
	Logger *logging.Logger
}

// Generate probes the configured backend and assembles a Report. Probe
// failures are recorded in the report rather than returned as an error, so
// they do not change --diagnose's exit status (spec §6.5).
func Generate(opts Options) Report {
	r := Report{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		GoVersion:   runtime.Version(),
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		BackendMode: string(opts.BackendMode),
		BackendPath: opts.BackendPath,
	}

	if opts.Guard != nil {
		r.ResourceGuardHealth = string(opts.Guard.Health())
	}
	if opts.CircuitBreaker != nil {
		r.CircuitBreakerState = opts.CircuitBreaker.State().String()
	}

	log := opts.Logger
	if log == nil {
		log, _ = logging.New(logging.Config{Level: "error", Format: "console"})
	}

	var agent backend.Agent
	if opts.BackendMode == backend.ModeHTTP {
		agent = backend.NewHTTPAgent(opts.HTTPConfig, log)
	} else {
		agent = backend.NewSubprocessAgent(opts.BackendPath, opts.BackendArgs, opts.BackendEnv, log)
	}

	probeCtx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	if err := agent.Authenticate(probeCtx); err != nil {
		r.BackendProbeOK = false
		r.BackendProbe = err.Error()
		return r
	}
	r.BackendProbeOK = true
	r.BackendVersion = agent.Version()
	return r
}

// Print writes the report as indented JSON to stdout. This cannot collide
// with the wire protocol, since --diagnose exits before the transport starts.
func Print(r Report) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
