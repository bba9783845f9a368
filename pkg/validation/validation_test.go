package validation_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aretw0/productflow/pkg/domain"
	"github.com/aretw0/productflow/pkg/validation"
	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func validProduct() domain.ProductData {
	return domain.ProductData{
		ProductCode: "GOLD-2026",
		Name:        "Gold membership",
		ProductType: "MEMBERSHIP",
		Price:       ptr(49.9),
		Currency:    "EUR",
	}
}

func TestValidateProduct_Valid(t *testing.T) {
	res := validation.ValidateProduct(validProduct())
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
}

func TestValidateProduct_ReportsEveryError(t *testing.T) {
	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	res := validation.ValidateProduct(domain.ProductData{
		ProductCode: "lower case",
		Name:        strings.Repeat("x", 101),
		ProductType: "GADGET",
		Price:       ptr(-1.0),
		ValidFrom:   &from,
		ValidTo:     ptr(from.Add(-time.Hour)),
		MaxMembers:  ptr(0),
	})

	assert.False(t, res.IsValid)
	assert.Len(t, res.Errors, 7)
	assert.Contains(t, res.Errors[0], "productCode")
}

func TestValidateProduct_Required(t *testing.T) {
	res := validation.ValidateProduct(domain.ProductData{})
	assert.ElementsMatch(t, []string{
		"productCode is required",
		"name is required",
		"productType is required",
	}, res.Errors)
}

func TestValidateProduct_Currency(t *testing.T) {
	p := validProduct()
	p.Currency = "euro"
	res := validation.ValidateProduct(p)
	assert.False(t, res.IsValid)
	assert.Len(t, res.Errors, 1)
}

func TestValidateTarget(t *testing.T) {
	tests := []struct {
		name   string
		cfg    domain.TargetConfig
		errors int
	}{
		{"default is valid", *domain.DefaultTargetConfig(), 0},
		{"full valid", domain.TargetConfig{
			MinAge:           ptr(18),
			MaxAge:           ptr(65),
			Gender:           ptr("ANY"),
			MemberTypes:      []string{"FAMILY", "SINGLE"},
			Regions:          []string{"north"},
			MembershipStatus: ptr("ACTIVE"),
			MinTenureMonths:  ptr(6),
		}, 0},
		{"age range inverted", domain.TargetConfig{MinAge: ptr(40), MaxAge: ptr(30)}, 1},
		{"age out of bounds", domain.TargetConfig{MinAge: ptr(-1), MaxAge: ptr(200)}, 2},
		{"bad enums", domain.TargetConfig{Gender: ptr("X"), MembershipStatus: ptr("GONE")}, 2},
		{"bad lists", domain.TargetConfig{Regions: []string{"a", "a", " "}}, 2},
		{"negative tenure", domain.TargetConfig{MinTenureMonths: ptr(-3)}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := validation.ValidateTarget(tt.cfg)
			assert.Len(t, res.Errors, tt.errors, res.Errors)
			assert.Equal(t, tt.errors == 0, res.IsValid)
		})
	}
}
