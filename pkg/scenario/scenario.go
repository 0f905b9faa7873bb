// Package scenario loads YAML test scripts that configure a mock
// server for one test run: session and keepalive timing, fault rules
// applied to every new session or channel, and canned tool responses.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mockmcp/mockmcp/pkg/mcp"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "250ms" or "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// ToolScript is one canned tool behavior. Response and Error are
// mutually exclusive; Error wins if both are set, matching the
// handler's override precedence.
type ToolScript struct {
	Name     string         `yaml:"name"`
	Response map[string]any `yaml:"response,omitempty"`
	Error    string         `yaml:"error,omitempty"`
}

// Scenario is a declarative test setup for the mock server.
type Scenario struct {
	SessionTimeout      Duration     `yaml:"sessionTimeout,omitempty"`
	KeepaliveInterval   Duration     `yaml:"keepaliveInterval,omitempty"`
	ExpireAfterRequests int          `yaml:"expireAfterRequests,omitempty"`
	DropAfterMessages   int          `yaml:"dropAfterMessages,omitempty"`
	NotifyDelay         Duration     `yaml:"notifyDelay,omitempty"`
	Tools               []ToolScript `yaml:"tools,omitempty"`
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate reports structural problems.
func (sc *Scenario) Validate() error {
	if sc.ExpireAfterRequests < 0 {
		return errors.New("expireAfterRequests cannot be negative")
	}
	if sc.DropAfterMessages < 0 {
		return errors.New("dropAfterMessages cannot be negative")
	}
	for i, tool := range sc.Tools {
		if tool.Name == "" {
			return fmt.Errorf("tools[%d]: name is required", i)
		}
	}
	return nil
}

// Configure applies the scenario's timing and fault defaults to a
// server config. Zero values leave the config untouched.
func (sc *Scenario) Configure(cfg *mcp.Config) {
	if sc.SessionTimeout > 0 {
		cfg.SessionTimeout = time.Duration(sc.SessionTimeout)
	}
	if sc.KeepaliveInterval > 0 {
		cfg.KeepaliveInterval = time.Duration(sc.KeepaliveInterval)
	}
	if sc.ExpireAfterRequests > 0 {
		cfg.ExpireAfterRequests = sc.ExpireAfterRequests
	}
	if sc.DropAfterMessages > 0 {
		cfg.DropAfterMessages = sc.DropAfterMessages
	}
	if sc.NotifyDelay > 0 {
		cfg.NotifyDelay = time.Duration(sc.NotifyDelay)
	}
}

// Handler builds a scripted handler owning every tool the scenario
// cans. The scripted behaviors are installed as the handler's
// defaults, so Reset between test cases restores them instead of
// wiping them. Returns nil when the scenario declares no tools.
func (sc *Scenario) Handler() *mcp.ScriptedHandler {
	if len(sc.Tools) == 0 {
		return nil
	}
	h := mcp.NewScriptedHandler("scenario")
	for _, tool := range sc.Tools {
		tool := tool
		var fn mcp.HandleFunc
		switch {
		case tool.Error != "":
			fn = func(map[string]any) (*mcp.ToolResult, error) {
				return nil, errors.New(tool.Error)
			}
		case tool.Response != nil:
			fn = func(map[string]any) (*mcp.ToolResult, error) {
				return mcp.ToolResultJSON(tool.Response)
			}
		}
		h.AddTool(mcp.ToolDefinition{Name: tool.Name}, fn)
	}
	return h
}
