package domain

import "time"

// ProductData is the primary payload. It is set once by AddProductData and
// immutable afterwards.
type ProductData struct {
	ProductCode string     `json:"productCode" mapstructure:"productCode"`
	Name        string     `json:"name" mapstructure:"name"`
	Description string     `json:"description,omitempty" mapstructure:"description"`
	ProductType string     `json:"productType" mapstructure:"productType"`
	Price       *float64   `json:"price,omitempty" mapstructure:"price"`
	Currency    string     `json:"currency,omitempty" mapstructure:"currency"`
	IsActive    *bool      `json:"isActive,omitempty" mapstructure:"isActive"`
	ValidFrom   *time.Time `json:"validFrom,omitempty" mapstructure:"validFrom"`
	ValidTo     *time.Time `json:"validTo,omitempty" mapstructure:"validTo"`
	MaxMembers  *int       `json:"maxMembers,omitempty" mapstructure:"maxMembers"`
}

// Clone returns a deep copy.
func (p *ProductData) Clone() *ProductData {
	out := *p
	out.Price = clonePtr(p.Price)
	out.IsActive = clonePtr(p.IsActive)
	out.ValidFrom = clonePtr(p.ValidFrom)
	out.ValidTo = clonePtr(p.ValidTo)
	out.MaxMembers = clonePtr(p.MaxMembers)
	return &out
}

// TargetConfig is the secondary payload: the audience a product is offered to.
// A nil field means "no restriction".
type TargetConfig struct {
	MinAge           *int     `json:"minAge" mapstructure:"minAge"`
	MaxAge           *int     `json:"maxAge" mapstructure:"maxAge"`
	Gender           *string  `json:"gender" mapstructure:"gender"`
	MemberTypes      []string `json:"memberTypes" mapstructure:"memberTypes"`
	Regions          []string `json:"regions" mapstructure:"regions"`
	MembershipStatus *string  `json:"membershipStatus" mapstructure:"membershipStatus"`
	MinTenureMonths  *int     `json:"minTenureMonths" mapstructure:"minTenureMonths"`
}

// DefaultTargetConfig is the configuration used when the target step was skipped.
func DefaultTargetConfig() *TargetConfig {
	return &TargetConfig{}
}

// ConfiguredFields counts the fields carrying a restriction.
func (t *TargetConfig) ConfiguredFields() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, set := range []bool{
		t.MinAge != nil,
		t.MaxAge != nil,
		t.Gender != nil,
		t.MemberTypes != nil,
		t.Regions != nil,
		t.MembershipStatus != nil,
		t.MinTenureMonths != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (t *TargetConfig) Clone() *TargetConfig {
	out := *t
	out.MinAge = clonePtr(t.MinAge)
	out.MaxAge = clonePtr(t.MaxAge)
	out.Gender = clonePtr(t.Gender)
	out.MembershipStatus = clonePtr(t.MembershipStatus)
	out.MinTenureMonths = clonePtr(t.MinTenureMonths)
	if t.MemberTypes != nil {
		out.MemberTypes = append([]string{}, t.MemberTypes...)
	}
	if t.Regions != nil {
		out.Regions = append([]string{}, t.Regions...)
	}
	return &out
}

// CommitResult is the outcome of CommitSession.
type CommitResult struct {
	Success     bool     `json:"success"`
	ProductID   string   `json:"productId,omitempty"`
	TargetID    string   `json:"targetId,omitempty"`
	Attempts    int      `json:"attempts"`
	Errors      []string `json:"errors,omitempty"`
	OperationID string   `json:"operationId"`

	// OrphanedProductIDs lists products created by a failed attempt whose
	// compensation also failed. They need out-of-band reconciliation.
	OrphanedProductIDs []string `json:"orphanedProductIds,omitempty"`
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
