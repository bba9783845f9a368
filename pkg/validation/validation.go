// Package validation holds the payload rules of the onboarding workflow as pure functions.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/aretw0/productflow/pkg/domain"
	"github.com/aretw0/productflow/pkg/ports"
)

const (
	maxNameLen        = 100
	maxDescriptionLen = 2000
	maxAge            = 120
)

var (
	productCodePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{1,31}$`)
	currencyPattern    = regexp.MustCompile(`^[A-Z]{3}$`)

	productTypes       = []string{"MEMBERSHIP", "INSURANCE", "SERVICE", "EVENT"}
	genders            = []string{"M", "F", "OTHER", "ANY"}
	membershipStatuses = []string{"ACTIVE", "INACTIVE", "PENDING", "SUSPENDED"}
)

// Result is the outcome of a validation. Errors lists every failing field.
type Result = ports.ValidationResult

type collector struct {
	errs []string
}

func (c *collector) addf(format string, args ...any) {
	c.errs = append(c.errs, fmt.Sprintf(format, args...))
}

func (c *collector) result() Result {
	return Result{IsValid: len(c.errs) == 0, Errors: c.errs}
}

// ValidateProduct checks the primary payload.
func ValidateProduct(p domain.ProductData) Result {
	var c collector

	switch {
	case strings.TrimSpace(p.ProductCode) == "":
		c.addf("productCode is required")
	case !productCodePattern.MatchString(p.ProductCode):
		c.addf("productCode %q must be 2-32 uppercase letters, digits, '-' or '_'", p.ProductCode)
	}

	switch {
	case strings.TrimSpace(p.Name) == "":
		c.addf("name is required")
	case utf8.RuneCountInString(p.Name) > maxNameLen:
		c.addf("name must be at most %d characters", maxNameLen)
	}

	if utf8.RuneCountInString(p.Description) > maxDescriptionLen {
		c.addf("description must be at most %d characters", maxDescriptionLen)
	}

	switch {
	case p.ProductType == "":
		c.addf("productType is required")
	case !oneOf(p.ProductType, productTypes):
		c.addf("productType must be one of %s", strings.Join(productTypes, ", "))
	}

	if p.Price != nil {
		if *p.Price < 0 {
			c.addf("price must not be negative")
		}
		if p.Currency == "" {
			c.addf("currency is required when price is set")
		}
	}
	if p.Currency != "" && !currencyPattern.MatchString(p.Currency) {
		c.addf("currency %q must be an ISO 4217 code", p.Currency)
	}

	if p.ValidFrom != nil && p.ValidTo != nil && !p.ValidTo.After(*p.ValidFrom) {
		c.addf("validTo must be after validFrom")
	}

	if p.MaxMembers != nil && *p.MaxMembers <= 0 {
		c.addf("maxMembers must be positive")
	}

	return c.result()
}

// ValidateTarget checks the secondary payload. An all-nil configuration is valid.
func ValidateTarget(t domain.TargetConfig) Result {
	var c collector

	if t.MinAge != nil && (*t.MinAge < 0 || *t.MinAge > maxAge) {
		c.addf("minAge must be between 0 and %d", maxAge)
	}
	if t.MaxAge != nil && (*t.MaxAge < 0 || *t.MaxAge > maxAge) {
		c.addf("maxAge must be between 0 and %d", maxAge)
	}
	if t.MinAge != nil && t.MaxAge != nil && *t.MinAge > *t.MaxAge {
		c.addf("minAge must not exceed maxAge")
	}

	if t.Gender != nil && !oneOf(*t.Gender, genders) {
		c.addf("gender must be one of %s", strings.Join(genders, ", "))
	}
	if t.MembershipStatus != nil && !oneOf(*t.MembershipStatus, membershipStatuses) {
		c.addf("membershipStatus must be one of %s", strings.Join(membershipStatuses, ", "))
	}

	checkList(&c, "memberTypes", t.MemberTypes)
	checkList(&c, "regions", t.Regions)

	if t.MinTenureMonths != nil && *t.MinTenureMonths < 0 {
		c.addf("minTenureMonths must not be negative")
	}

	return c.result()
}

func checkList(c *collector, field string, values []string) {
	seen := make(map[string]bool, len(values))
	for i, v := range values {
		if strings.TrimSpace(v) == "" {
			c.addf("%s[%d] must not be empty", field, i)
			continue
		}
		if seen[v] {
			c.addf("%s[%d] duplicates %q", field, i, v)
		}
		seen[v] = true
	}
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validator exposes the package rules through the ports interfaces.
type Validator struct{}

// Default returns the standard validator.
func Default() Validator {
	return Validator{}
}

// ValidateProduct implements ports.ProductValidator.
func (Validator) ValidateProduct(p domain.ProductData) ports.ValidationResult {
	return ValidateProduct(p)
}

// ValidateTarget implements ports.TargetValidator.
func (Validator) ValidateTarget(t domain.TargetConfig) ports.ValidationResult {
	return ValidateTarget(t)
}
