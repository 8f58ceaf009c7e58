package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FallbackTools is used when the MCP config is missing or lists no servers.
var FallbackTools = []string{
	"mcp__t2i-fal-imagen4-fast",
	"mcp__t2v-fal-veo3-fast",
	"mcp__t2m-google-lyria",
	"mcp__i2v-fal-hailuo-02-pro",
	"mcp__i2i-fal-flux-kontext-max",
	"mcp__r2v-fal-vidu-q1",
}

// baseTools are always granted alongside the MCP tools.
var baseTools = []string{"Bash(curl:*)", "Bash(open:*)"}

// LoadMCPTools reads an MCP config file and returns "mcp__<server>" for every
// key of mcpServers, in file order.
func LoadMCPTools(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc struct {
		MCPServers json.RawMessage `json:"mcpServers"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(doc.MCPServers) == 0 {
		return nil, nil
	}

	names, err := objectKeys(doc.MCPServers)
	if err != nil {
		return nil, fmt.Errorf("parsing mcpServers in %s: %w", path, err)
	}
	tools := make([]string, 0, len(names))
	for _, name := range names {
		tools = append(tools, "mcp__"+name)
	}
	return tools, nil
}

// objectKeys returns the top-level keys of a JSON object in document order.
func objectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key token %v", tok)
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// DefaultPattern joins MCP tools and the base tools into one allow-list.
func DefaultPattern(tools []string) string {
	all := make([]string, 0, len(tools)+len(baseTools))
	all = append(all, tools...)
	all = append(all, baseTools...)
	return strings.Join(all, ",")
}

// ToolSet resolves permission patterns from the MCP config and keeps them
// current while the file changes. Configured patterns, when present, take
// precedence over the derived default.
type ToolSet struct {
	path       string
	configured []string
	logger     *slog.Logger

	mu       sync.RWMutex
	tools    []string
	patterns []string
}

// NewToolSet loads the MCP config at path.
func NewToolSet(path string, configured []string, logger *slog.Logger) *ToolSet {
	if logger == nil {
		logger = slog.Default()
	}
	t := &ToolSet{
		path:       path,
		configured: configured,
		logger:     logger.With("component", "tools"),
	}
	t.Reload()
	return t
}

// Reload re-reads the MCP config. Read errors fall back to FallbackTools.
func (t *ToolSet) Reload() {
	tools, err := LoadMCPTools(t.path)
	if err != nil {
		t.logger.Debug("mcp config unavailable, using fallback tools", "path", t.path, "error", err)
	}
	if len(tools) == 0 {
		tools = append([]string(nil), FallbackTools...)
	}

	patterns := t.configured
	if len(patterns) == 0 {
		patterns = []string{DefaultPattern(tools)}
	}

	t.mu.Lock()
	t.tools = tools
	t.patterns = append([]string(nil), patterns...)
	t.mu.Unlock()

	t.logger.Info("permission patterns loaded", "tools", len(tools), "patterns", len(patterns))
}

// Tools returns the resolved MCP tool names.
func (t *ToolSet) Tools() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.tools...)
}

// Patterns implements PatternSource.
func (t *ToolSet) Patterns() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.patterns...)
}

// Watch reloads the tool set whenever the MCP config file is written,
// created or replaced. It watches the parent directory so editor renames are
// seen. Watch returns once the watcher is running; it stops when ctx is done.
func (t *ToolSet) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	dir := filepath.Dir(t.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	target := filepath.Clean(t.path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
					t.logger.Info("mcp config changed", "op", ev.Op.String())
					t.Reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				t.logger.Warn("mcp config watcher error", "error", err)
			}
		}
	}()
	return nil
}
