package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaosloop/podwatch/internal/logic/monitor"
)

// Plan is a declarative list of monitoring targets, typically mounted next
// to the chaos experiment definition it observes.
type Plan struct {
	Targets []Target `yaml:"targets"`
}

// Target selects one pod population and optionally overrides the session
// defaults for it. Durations are strings with explicit units (e.g. 90s, 2m);
// empty means "use the configured default".
type Target struct {
	Name             string `yaml:"name"`
	Namespace        string `yaml:"namespace"`
	LabelSelector    string `yaml:"labelSelector"`
	NamePattern      string `yaml:"namePattern"`
	NamespacePattern string `yaml:"namespacePattern"`
	Timeout          string `yaml:"timeout"`
	Lookback         string `yaml:"lookback"`
	Policy           string `yaml:"policy"`
}

// selectsSomething reports whether any selection field is set. A target
// without one would watch the entire cluster.
func (t Target) selectsSomething() bool {
	return t.Namespace != "" || t.LabelSelector != "" || t.NamePattern != "" || t.NamespacePattern != ""
}

// LoadPlan reads and validates a plan file. Unknown keys, duplicate target
// names, malformed selectors and malformed durations are all load errors.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	plan := &Plan{}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(plan); err != nil {
		return nil, fmt.Errorf("parse plan file: %w", err)
	}

	if len(plan.Targets) == 0 {
		return nil, fmt.Errorf("plan file %s has no targets", path)
	}

	seen := make(map[string]struct{}, len(plan.Targets))

	for i, target := range plan.Targets {
		if target.Name == "" {
			return nil, fmt.Errorf("plan target %d: name required", i+1)
		}

		if _, ok := seen[target.Name]; ok {
			return nil, fmt.Errorf("plan target %q: duplicate name", target.Name)
		}

		seen[target.Name] = struct{}{}

		if !target.selectsSomething() {
			return nil, fmt.Errorf("plan target %q: at least one selection field required", target.Name)
		}
	}

	if _, err := plan.PoolTargets(); err != nil {
		return nil, err
	}

	return plan, nil
}

// PoolTargets converts the plan into pool targets. Zero-valued session
// fields are filled from the registry defaults at start time.
func (p *Plan) PoolTargets() ([]monitor.PoolTarget, error) {
	targets := make([]monitor.PoolTarget, 0, len(p.Targets))

	for _, t := range p.Targets {
		selector := monitor.Selector{
			Namespace:        t.Namespace,
			LabelSelector:    t.LabelSelector,
			NamePattern:      t.NamePattern,
			NamespacePattern: t.NamespacePattern,
		}

		if err := selector.Validate(); err != nil {
			return nil, fmt.Errorf("plan target %q: %w", t.Name, err)
		}

		timeout, err := parsePlanDuration(t.Name, "timeout", t.Timeout)
		if err != nil {
			return nil, err
		}

		lookback, err := parsePlanDuration(t.Name, "lookback", t.Lookback)
		if err != nil {
			return nil, err
		}

		var policy monitor.CorrelationPolicy

		if t.Policy != "" {
			policy, err = monitor.ParseCorrelationPolicy(t.Policy)
			if err != nil {
				return nil, fmt.Errorf("plan target %q: %w", t.Name, err)
			}
		}

		targets = append(targets, monitor.PoolTarget{
			Name:     t.Name,
			Selector: selector,
			Config: monitor.SessionConfig{
				Timeout:  timeout,
				Lookback: lookback,
				Policy:   policy,
			},
		})
	}

	return targets, nil
}

func parsePlanDuration(target, field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("plan target %q: %s: %w", target, field, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("plan target %q: %s: must be positive, got %s", target, field, value)
	}

	return d, nil
}
