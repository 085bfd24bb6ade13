package agent

import (
	"bytes"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/computesdk/sandbox-agent/internal/schema"
)

// Factory builds a fresh Adapter instance bound to one session.
type Factory func() Adapter

// family is the static description of one supported agent family.
type family struct {
	id          string
	name        string
	binary      string
	versionArgs []string
	modes       []schema.AgentModeInfo
	factory     Factory
}

// Registry knows every supported agent family and what is installed on this
// host. Descriptors are cached; Refresh (or the install-dir watcher) drops
// the cache after an install.
type Registry struct {
	mu         sync.Mutex
	families   []family
	installDir string
	logger     *slog.Logger
	cache      map[string]schema.AgentInfo
}

// RegistryConfig configures agent discovery.
type RegistryConfig struct {
	// InstallDir is the managed directory the installer places binaries
	// in; it is searched before PATH.
	InstallDir string

	// WithMock registers the in-process mock agent family.
	WithMock bool

	Logger *slog.Logger
}

// NewRegistry creates a registry with the shipped agent families.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		installDir: cfg.InstallDir,
		logger:     logger,
		cache:      make(map[string]schema.AgentInfo),
	}

	r.families = []family{
		{
			id:          "claude",
			name:        "Claude Code",
			binary:      "claude",
			versionArgs: []string{"--version"},
			modes: []schema.AgentModeInfo{
				{ID: "default", Name: "Default"},
				{ID: "plan", Name: "Plan"},
			},
			factory: func() Adapter { return newClaudeAdapter(r.binaryPath("claude")) },
		},
		{
			id:          "codex",
			name:        "Codex",
			binary:      "codex",
			versionArgs: []string{"--version"},
			modes: []schema.AgentModeInfo{
				{ID: "default", Name: "Default"},
			},
			factory: func() Adapter { return newCodexAdapter(r.binaryPath("codex")) },
		},
		{
			id:          "gemini",
			name:        "Gemini CLI",
			binary:      "gemini",
			versionArgs: []string{"--version"},
			modes: []schema.AgentModeInfo{
				{ID: "default", Name: "Default"},
			},
			factory: func() Adapter { return newGeminiAdapter(r.binaryPath("gemini")) },
		},
	}

	if cfg.WithMock {
		r.families = append(r.families, family{
			id:      "mock",
			name:    "Mock Agent",
			modes:   []schema.AgentModeInfo{{ID: "default", Name: "Default"}},
			factory: func() Adapter { return NewMockAdapter(nil) },
		})
	}

	return r
}

// binaryPath prefers the managed install dir over PATH.
func (r *Registry) binaryPath(binary string) string {
	if r.installDir != "" {
		managed := filepath.Join(r.installDir, binary)
		if _, err := exec.LookPath(managed); err == nil {
			return managed
		}
	}
	return binary
}

func (r *Registry) find(id string) (family, bool) {
	for _, f := range r.families {
		if f.id == id {
			return f, true
		}
	}
	return family{}, false
}

// NewAdapter builds an adapter for the given agent family. Validation error
// for unknown ids.
func (r *Registry) NewAdapter(id string) (Adapter, error) {
	f, ok := r.find(id)
	if !ok {
		return nil, schema.Validationf("unknown agent %q", id)
	}
	return f.factory(), nil
}

// Modes returns the mode descriptors for an agent family.
func (r *Registry) Modes(id string) ([]schema.AgentModeInfo, error) {
	f, ok := r.find(id)
	if !ok {
		return nil, schema.Validationf("unknown agent %q", id)
	}
	return f.modes, nil
}

// Agents returns a descriptor for every known family, probing the host for
// installed binaries and versions. Probe results are cached until Refresh.
func (r *Registry) Agents() []schema.AgentInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]schema.AgentInfo, 0, len(r.families))
	for _, f := range r.families {
		info, ok := r.cache[f.id]
		if !ok {
			info = r.probe(f)
			r.cache[f.id] = info
		}
		out = append(out, info)
	}
	return out
}

// Refresh drops the descriptor cache so the next Agents call re-probes.
func (r *Registry) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]schema.AgentInfo)
}

func (r *Registry) probe(f family) schema.AgentInfo {
	info := schema.AgentInfo{ID: f.id, Name: f.name}
	if f.binary == "" {
		// In-process family (mock): always available.
		info.Installed = true
		return info
	}

	path, err := exec.LookPath(r.binaryPath(f.binary))
	if err != nil {
		return info
	}
	info.Installed = true
	info.Path = path
	info.Version = probeVersion(path, f.versionArgs)
	return info
}

// probeVersion runs the agent's version command with a short deadline; an
// uncooperative binary just leaves the field empty.
func probeVersion(path string, args []string) string {
	if len(args) == 0 {
		return ""
	}
	cmd := exec.Command(path, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return ""
	}
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			return ""
		}
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		<-done
		return ""
	}
	return strings.TrimSpace(strings.SplitN(buf.String(), "\n", 2)[0])
}
