package engine

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/devkdas/causeway/internal/models"
)

// ActionRules maps a root-cause event kind onto an ordered list of suggested
// remediation actions. Action templates may reference {ref}, {component},
// and {actor}, expanded from the root-cause event when suggestions are
// produced. The engine only recommends; it never executes remediation.
type ActionRules struct {
	byKind   map[models.EventKind][]string
	fallback []string
}

type actionRulesFile struct {
	Actions  map[string][]string `yaml:"actions"`
	Fallback []string            `yaml:"fallback"`
}

// DefaultActionRules returns the compiled-in rule pack. A deploy root cause
// always leads with a rollback.
func DefaultActionRules() *ActionRules {
	return &ActionRules{
		byKind: map[models.EventKind][]string{
			models.EventDeploy: {
				"Roll back deployment {ref} on {component}",
				"Compare service health before and after {ref}",
				"Notify {actor} that deployment {ref} is a suspected root cause",
			},
			models.EventCommit: {
				"Revert commit {ref} touching {component}",
				"Review the diff of {ref} with {actor}",
			},
			models.EventTest: {
				"Inspect test run {ref} for {component}",
				"Re-run the failing suite to rule out flakiness",
			},
		},
		fallback: []string{
			"Review recent logs and dashboards for the affected components",
			"Check upstream dependencies for correlated errors",
		},
	}
}

// LoadActionRules reads a YAML rule pack from path, overlaying the defaults.
// An empty path or a missing file yields the defaults, mirroring how rule
// packs are optional everywhere else in the engine.
func LoadActionRules(path string, logger *slog.Logger) (*ActionRules, error) {
	rules := DefaultActionRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rules, nil
		}
		return nil, err
	}
	var file actionRulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	for kind, actions := range file.Actions {
		if len(actions) == 0 {
			continue
		}
		rules.byKind[models.EventKind(kind)] = actions
	}
	if len(file.Fallback) > 0 {
		rules.fallback = file.Fallback
	}
	if logger != nil {
		logger.Debug("action rule pack loaded", slog.String("path", path), slog.Int("kinds", len(file.Actions)))
	}
	return rules, nil
}

// For expands the rule pack entry for the event's kind against the event.
func (r *ActionRules) For(event models.ChangeEvent) []string {
	if r == nil {
		r = DefaultActionRules()
	}
	templates, ok := r.byKind[event.Kind]
	if !ok {
		templates = r.fallback
	}

	component := "the affected component"
	if len(event.Components) > 0 {
		component = event.Components[0]
	}
	actor := event.Actor
	if actor == "" {
		actor = "the change author"
	}

	expander := strings.NewReplacer(
		"{ref}", event.Ref,
		"{component}", component,
		"{actor}", actor,
	)
	actions := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		actions = append(actions, expander.Replace(tmpl))
	}
	return actions
}

// Fallback returns the suggestions used when no root cause was identified.
func (r *ActionRules) Fallback() []string {
	if r == nil {
		r = DefaultActionRules()
	}
	return append([]string(nil), r.fallback...)
}
