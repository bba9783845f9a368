package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aretw0/productflow/pkg/domain"
)

var stateColors = map[domain.SessionState]string{
	domain.StateInitiated:        "#94a3b8",
	domain.StateProductAdded:     "#60a5fa",
	domain.StateTargetConfigured: "#818cf8",
	domain.StateCommitted:        "#34d399",
	domain.StateCompleted:        "#10b981",
	domain.StateFailed:           "#f87171",
	domain.StateExpired:          "#fbbf24",
}

// StateLabel returns the state name colored for w.
func StateLabel(w io.Writer, state domain.SessionState) string {
	p := profileFor(w)
	s := p.String(string(state))
	if c, ok := stateColors[state]; ok {
		s = s.Foreground(p.Color(c))
	}
	if state.IsTerminal() {
		s = s.Bold()
	}
	return s.String()
}

// SessionMarkdown describes a session as a markdown document.
func SessionMarkdown(s *domain.Session, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Session `%s`\n\n", s.SessionID)
	b.WriteString("| Field | Value |\n|---|---|\n")
	row(&b, "State", string(s.State))
	row(&b, "User", fmt.Sprintf("%s (%s)", s.UserID, s.UserPrivilege))
	row(&b, "Organization", s.OrganizationGUID)
	row(&b, "Created", s.CreatedAt.UTC().Format(time.RFC3339))
	row(&b, "Updated", s.UpdatedAt.UTC().Format(time.RFC3339))
	if s.IsExpired(now) {
		row(&b, "Expires", "expired")
	} else {
		row(&b, "Expires", fmt.Sprintf("%s (in %s)", s.ExpiresAt.UTC().Format(time.RFC3339), s.RemainingTTL(now).Round(time.Second)))
	}
	row(&b, "Operation", s.OperationID)
	row(&b, "Version", fmt.Sprint(s.Version))

	if p := s.ProductData; p != nil {
		b.WriteString("\n## Product\n\n| Field | Value |\n|---|---|\n")
		row(&b, "Code", p.ProductCode)
		row(&b, "Name", p.Name)
		row(&b, "Type", p.ProductType)
		if p.Description != "" {
			row(&b, "Description", p.Description)
		}
		if p.Price != nil {
			row(&b, "Price", strings.TrimSpace(fmt.Sprintf("%.2f %s", *p.Price, p.Currency)))
		}
		if p.IsActive != nil {
			row(&b, "Active", fmt.Sprint(*p.IsActive))
		}
		if p.ValidFrom != nil {
			row(&b, "Valid from", p.ValidFrom.UTC().Format(time.RFC3339))
		}
		if p.ValidTo != nil {
			row(&b, "Valid to", p.ValidTo.UTC().Format(time.RFC3339))
		}
		if p.MaxMembers != nil {
			row(&b, "Max members", fmt.Sprint(*p.MaxMembers))
		}
	}

	if t := s.TargetData; t != nil {
		b.WriteString("\n## Target\n\n| Filter | Value |\n|---|---|\n")
		row(&b, "Min age", optional(t.MinAge))
		row(&b, "Max age", optional(t.MaxAge))
		row(&b, "Gender", optional(t.Gender))
		row(&b, "Member types", list(t.MemberTypes))
		row(&b, "Regions", list(t.Regions))
		row(&b, "Membership status", optional(t.MembershipStatus))
		row(&b, "Min tenure (months)", optional(t.MinTenureMonths))
	}

	if c := s.CommitResult; c != nil {
		b.WriteString("\n## Commit\n\n")
		fmt.Fprintf(&b, "- product: `%s`\n- target: `%s`\n", c.ProductID, c.TargetID)
	}

	if len(s.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}

func row(b *strings.Builder, k, v string) {
	fmt.Fprintf(b, "| %s | %s |\n", k, strings.ReplaceAll(v, "|", "\\|"))
}

func optional[T any](p *T) string {
	if p == nil {
		return "any"
	}
	return fmt.Sprint(*p)
}

func list(v []string) string {
	if v == nil {
		return "any"
	}
	return strings.Join(v, ", ")
}
