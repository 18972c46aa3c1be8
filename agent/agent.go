// Package agent defines agent personas (system message template, allowed
// tools, delegate and transfer targets) and the registry that resolves them.
// An agent is plain configuration; behaviour lives in the team package which
// drives generation against the resolved agent.
package agent

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hupe1980/taskmesh/document"
	"github.com/hupe1980/taskmesh/internal/util"
)

// ResponseType selects the expected shape of the agent's final answer.
type ResponseType string

const (
	// ResponseText expects free-form text.
	ResponseText ResponseType = "text"
	// ResponseJSON expects a JSON object.
	ResponseJSON ResponseType = "json"
)

// nameRe validates agent names: lowercase alphanumerics and underscores,
// 3 to 50 characters.
var nameRe = regexp.MustCompile(`^[a-z0-9_]{3,50}$`)

// Agent is a named persona. The system message template may reference
// {{.delegates}} and {{.documents}}, substituted at resolution time with the
// rendered delegate list and document collection.
type Agent struct {
	// Name is the unique registry key (lowercase alnum/underscore, 3-50 chars).
	Name string
	// Description tells other agents what this agent is for; it is rendered
	// into delegators' system messages.
	Description string
	// SystemMessageTemplate is the persona prompt.
	SystemMessageTemplate string
	// Model overrides the default model when non-empty.
	Model string
	// Temperature overrides the default temperature when non-nil.
	Temperature *float64
	// ResponseType is text (default) or json.
	ResponseType ResponseType
	// AllowedTools lists tool names this agent may call.
	AllowedTools []string
	// CanDelegateTo lists agents this agent may spawn sub-tasks for.
	CanDelegateTo []string
	// CanTransferTo lists agents this agent may hand its thread to.
	CanTransferTo []string
	// Documents is optional grounding material rendered into the system message.
	Documents *document.Collection
}

// Validate checks agent-local invariants: a well-formed name, a non-empty
// template, and no self targeting in the delegate or transfer lists.
func (a *Agent) Validate() error {
	if !nameRe.MatchString(a.Name) {
		return fmt.Errorf("agent name %q is invalid: must match %s", a.Name, nameRe.String())
	}
	if strings.TrimSpace(a.SystemMessageTemplate) == "" {
		return fmt.Errorf("agent %q has an empty system message template", a.Name)
	}
	for _, d := range a.CanDelegateTo {
		if d == a.Name {
			return fmt.Errorf("agent %q cannot delegate to itself", a.Name)
		}
	}
	for _, t := range a.CanTransferTo {
		if t == a.Name {
			return fmt.Errorf("agent %q cannot transfer to itself", a.Name)
		}
	}
	return nil
}

// CanDelegate reports whether name is in the delegate allow-list.
func (a *Agent) CanDelegate(name string) bool { return contains(a.CanDelegateTo, name) }

// CanTransfer reports whether name is in the transfer allow-list.
func (a *Agent) CanTransfer(name string) bool { return contains(a.CanTransferTo, name) }

// HasDelegates reports whether the agent can spawn sub-tasks.
func (a *Agent) HasDelegates() bool { return len(a.CanDelegateTo) > 0 }

// HasTransfers reports whether the agent can hand off its thread.
func (a *Agent) HasTransfers() bool { return len(a.CanTransferTo) > 0 }

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

// responseTypeOrDefault normalizes the zero value to text.
func (a *Agent) responseTypeOrDefault() ResponseType {
	if a.ResponseType == "" {
		return ResponseText
	}
	return a.ResponseType
}

// RenderSystemMessage resolves the agent's template: {{.delegates}} becomes
// the formatted list of allowed delegates (resolved via lookup so their
// descriptions are current) and {{.documents}} the rendered collection.
func (a *Agent) RenderSystemMessage(lookup func(name string) (*Agent, bool)) (string, error) {
	var delegates strings.Builder
	if a.HasDelegates() {
		names := append([]string(nil), a.CanDelegateTo...)
		sort.Strings(names)
		delegates.WriteString("You can delegate tasks to the following agents:\n")
		for _, name := range names {
			desc := ""
			if lookup != nil {
				if d, ok := lookup(name); ok {
					desc = d.Description
				}
			}
			fmt.Fprintf(&delegates, "- %s: %s\n", name, desc)
		}
	}

	documents := ""
	if a.Documents != nil {
		documents = a.Documents.Render()
	}

	rendered, err := util.RenderTemplate(a.SystemMessageTemplate, map[string]any{
		"delegates": delegates.String(),
		"documents": documents,
	})
	if err != nil {
		return "", fmt.Errorf("render system message for agent %q: %w", a.Name, err)
	}

	if a.responseTypeOrDefault() == ResponseJSON {
		rendered += "\nRespond with a single valid JSON object."
	}
	return rendered, nil
}
