package ports

import "github.com/aretw0/productflow/pkg/domain"

// ValidationResult is the structured outcome of validating a payload.
type ValidationResult struct {
	IsValid bool
	Errors  []string
}

// ProductValidator validates the primary payload.
type ProductValidator interface {
	ValidateProduct(p domain.ProductData) ValidationResult
}

// TargetValidator validates the secondary payload.
type TargetValidator interface {
	ValidateTarget(t domain.TargetConfig) ValidationResult
}
