// Package install downloads agent CLIs into a daemon-managed directory. Each
// supported family ships as an npm package; installs are isolated under the
// managed prefix so they never touch the host's global node tree.
package install

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/computesdk/sandbox-agent/internal/schema"
)

// installTimeout bounds one npm invocation. Package downloads can be slow on
// cold caches but should never hang indefinitely.
const installTimeout = 5 * time.Minute

// pkg describes how one agent family is installed.
type pkg struct {
	npmName string
	binary  string
}

var packages = map[string]pkg{
	"claude": {npmName: "@anthropic-ai/claude-code", binary: "claude"},
	"codex":  {npmName: "@openai/codex", binary: "codex"},
	"gemini": {npmName: "@google/gemini-cli", binary: "gemini"},
}

// Installer installs agent binaries under a managed directory.
type Installer struct {
	dir    string
	logger *slog.Logger

	// One install at a time; npm does not tolerate concurrent writes to the
	// same prefix.
	mu sync.Mutex
}

// New creates an installer rooted at dir.
func New(dir string, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{dir: dir, logger: logger}
}

// Install fetches the agent's package and links its binary into the managed
// directory. Installing an already-installed agent upgrades it in place.
func (i *Installer) Install(ctx context.Context, agentID string) error {
	p, ok := packages[agentID]
	if !ok {
		return schema.Validationf("agent %q cannot be installed", agentID)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := os.MkdirAll(i.dir, 0o755); err != nil {
		return schema.Internalf("create install dir: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	prefix := filepath.Join(i.dir, ".npm", agentID)
	cmd := exec.CommandContext(ctx, "npm", "install", "--global", "--prefix", prefix, p.npmName+"@latest")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	i.logger.Info("installing agent", "agent", agentID, "package", p.npmName)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		i.logger.Error("agent install failed", "agent", agentID, "error", err, "output", tail(out.String()))
		return schema.UpstreamAgent("install failed for "+agentID, err)
	}

	// npm drops the executable under <prefix>/bin; a symlink at the top of
	// the managed dir is what the registry and PATH lookups see.
	target := filepath.Join(prefix, "bin", p.binary)
	link := filepath.Join(i.dir, p.binary)
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return schema.Internalf("replace binary link: %v", err)
	}
	if err := os.Symlink(target, link); err != nil {
		return schema.Internalf("link binary: %v", err)
	}

	i.logger.Info("agent installed", "agent", agentID, "duration", time.Since(start))
	return nil
}

// tail keeps error logs readable when npm dumps pages of output.
func tail(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > 10 {
		lines = lines[len(lines)-10:]
	}
	return strings.Join(lines, "\n")
}
