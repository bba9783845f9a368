package orchestrator

import (
	"strings"
	"time"

	"github.com/aretw0/productflow/pkg/domain"
	"github.com/aretw0/productflow/pkg/ports"
)

// Schema names the record store collections and binding fields.
type Schema struct {
	Products          string `yaml:"products" mapstructure:"products"`
	Targets           string `yaml:"targets" mapstructure:"targets"`
	Organizations     string `yaml:"organizations" mapstructure:"organizations"`
	ProductCodeField  string `yaml:"product_code_field" mapstructure:"product_code_field"`
	OrganizationField string `yaml:"organization_field" mapstructure:"organization_field"`
	ProductField      string `yaml:"product_field" mapstructure:"product_field"`
}

// DefaultSchema returns the collection layout of the membership backend.
func DefaultSchema() Schema {
	return Schema{
		Products:          "products",
		Targets:           "product_targets",
		Organizations:     "organizations",
		ProductCodeField:  "productcode",
		OrganizationField: "organization",
		ProductField:      "product",
	}
}

// productFields maps the product payload to a record bound to the organization.
func (sc Schema) productFields(sess *domain.Session) ports.Fields {
	p := sess.ProductData
	f := ports.Fields{
		sc.ProductCodeField: p.ProductCode,
		"name":              p.Name,
		"producttype":       p.ProductType,
		"createdby":         sess.UserID,
		sc.OrganizationField: ports.Reference{
			Collection: sc.Organizations,
			ID:         sess.OrganizationGUID,
		},
	}
	if p.Description != "" {
		f["description"] = p.Description
	}
	if p.Price != nil {
		f["price"] = *p.Price
		f["currency"] = p.Currency
	}
	if p.IsActive != nil {
		f["isactive"] = *p.IsActive
	}
	if p.ValidFrom != nil {
		f["validfrom"] = p.ValidFrom.UTC().Format(time.RFC3339)
	}
	if p.ValidTo != nil {
		f["validto"] = p.ValidTo.UTC().Format(time.RFC3339)
	}
	if p.MaxMembers != nil {
		f["maxmembers"] = *p.MaxMembers
	}
	return f
}

// targetFields maps the target configuration to a record bound to the product.
// Every filter column is written, nil meaning unrestricted.
func (sc Schema) targetFields(t *domain.TargetConfig, productID string) ports.Fields {
	return ports.Fields{
		sc.ProductField: ports.Reference{
			Collection: sc.Products,
			ID:         productID,
		},
		"minage":           derefOrNil(t.MinAge),
		"maxage":           derefOrNil(t.MaxAge),
		"gender":           derefOrNil(t.Gender),
		"membertypes":      joinOrNil(t.MemberTypes),
		"regions":          joinOrNil(t.Regions),
		"membershipstatus": derefOrNil(t.MembershipStatus),
		"mintenuremonths":  derefOrNil(t.MinTenureMonths),
	}
}

func derefOrNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func joinOrNil(values []string) any {
	if values == nil {
		return nil
	}
	return strings.Join(values, ",")
}
