package monitor

import (
	"fmt"
	"regexp"

	"k8s.io/apimachinery/pkg/labels"
)

// Selector describes which pods a session watches. Empty fields match
// everything. LabelSelector and Namespace are pushed down to the cluster API;
// the name and namespace patterns are applied client-side.
type Selector struct {
	Namespace        string `json:"namespace,omitempty"`
	LabelSelector    string `json:"labelSelector,omitempty"`
	NamePattern      string `json:"namePattern,omitempty"`
	NamespacePattern string `json:"namespacePattern,omitempty"`
}

// Validate rejects malformed selectors. Called at session start; a selector
// that fails here never creates a partial session.
func (s Selector) Validate() error {
	_, err := s.Compile()

	return err
}

// Compile parses the selector into its matching form.
func (s Selector) Compile() (*CompiledSelector, error) {
	parsed, err := labels.Parse(s.LabelSelector)
	if err != nil {
		return nil, fmt.Errorf("%w: label selector %q: %w", ErrInvalidSelector, s.LabelSelector, err)
	}

	namePattern, err := compilePattern(s.NamePattern)
	if err != nil {
		return nil, fmt.Errorf("%w: name pattern %q: %w", ErrInvalidSelector, s.NamePattern, err)
	}

	namespacePattern, err := compilePattern(s.NamespacePattern)
	if err != nil {
		return nil, fmt.Errorf("%w: namespace pattern %q: %w", ErrInvalidSelector, s.NamespacePattern, err)
	}

	return &CompiledSelector{
		namespace:        s.Namespace,
		labelSelector:    parsed,
		namePattern:      namePattern,
		namespacePattern: namespacePattern,
	}, nil
}

// compilePattern anchors the expression so a pattern matches whole names,
// not substrings.
func compilePattern(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}

	return regexp.Compile(`\A(?:` + expr + `)\z`)
}

// CompiledSelector is the parsed form consumed by snapshot source adapters.
type CompiledSelector struct {
	namespace        string
	labelSelector    labels.Selector
	namePattern      *regexp.Regexp
	namespacePattern *regexp.Regexp
}

// Namespace returns the exact namespace to list from, or "" for all.
func (c *CompiledSelector) Namespace() string {
	return c.namespace
}

// LabelSelector returns the server-side label selector string.
func (c *CompiledSelector) LabelSelector() string {
	return c.labelSelector.String()
}

// Matches applies the client-side pattern filters to one pod.
func (c *CompiledSelector) Matches(namespace, name string) bool {
	if c.namePattern != nil && !c.namePattern.MatchString(name) {
		return false
	}

	if c.namespacePattern != nil && !c.namespacePattern.MatchString(namespace) {
		return false
	}

	return true
}
