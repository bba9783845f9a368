package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/productflow/pkg/domain"
)

// Overlay marks session progress on the state chart.
type Overlay struct {
	Visited []domain.SessionState
	Current domain.SessionState
}

// GenerateMermaid produces a Mermaid flowchart of the session state machine.
// It applies semantic styling:
// - Initial state: ((Circle))
// - Terminal states: [[Subroutine]]
// - Default: [Rectangle]
// Edges into FAILED and EXPIRED are dotted. Overlay styles are applied if provided.
func GenerateMermaid(overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, state := range domain.AllStates {
		opener, closer := "[", "]"
		switch {
		case state == domain.StateInitiated:
			opener, closer = "((", "))"
		case state.IsTerminal():
			opener, closer = "[[", "]]"
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", sanitizeMermaidID(state), opener, state, closer))

		for _, to := range domain.AllowedTransitions(state) {
			arrow := "-->"
			if to == domain.StateFailed || to == domain.StateExpired {
				arrow = "-.->"
			}
			if state == domain.StateProductAdded && to == domain.StateCommitted {
				arrow = "-- \"skip target\" -->"
			}
			sb.WriteString(fmt.Sprintf("    %s %s %s\n", sanitizeMermaidID(state), arrow, sanitizeMermaidID(to)))
		}
	}

	// Apply Overlay Styles
	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, st := range overlay.Visited {
			id := sanitizeMermaidID(st)
			if !seen[id] && st.IsKnown() {
				seen[id] = true
				sb.WriteString(fmt.Sprintf("    class %s visited;\n", id))
			}
		}
		if overlay.Current.IsKnown() {
			sb.WriteString(fmt.Sprintf("    class %s current;\n", sanitizeMermaidID(overlay.Current)))
		}
	}

	return sb.String()
}

// PathTo returns the states a session went through, derived from the data it
// accumulated, ending with its current state.
func PathTo(s *domain.Session) []domain.SessionState {
	path := []domain.SessionState{domain.StateInitiated}
	if s.ProductData != nil {
		path = append(path, domain.StateProductAdded)
	}
	if s.TargetData != nil {
		path = append(path, domain.StateTargetConfigured)
	}
	if s.CommitResult != nil {
		path = append(path, domain.StateCommitted)
	}
	if path[len(path)-1] != s.State {
		path = append(path, s.State)
	}
	return path
}

func sanitizeMermaidID(state domain.SessionState) string {
	return strings.ToLower(string(state))
}
