package types

import "strings"

// ShippingDetails is the delivery contact captured at the shipping step and
// stored on orders and saved profiles.
type ShippingDetails struct {
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Email     string `json:"email" validate:"required,shopper_email"`
	Phone     string `json:"phone" validate:"required"`
	Address   string `json:"address" validate:"required"`
	City      string `json:"city" validate:"required"`
	State     string `json:"state" validate:"required"`
	Country   string `json:"country" validate:"required"`
	Zip       string `json:"zip" validate:"required"`
}

// Trimmed returns a copy with surrounding whitespace removed from every field.
func (s ShippingDetails) Trimmed() ShippingDetails {
	return ShippingDetails{
		FirstName: strings.TrimSpace(s.FirstName),
		LastName:  strings.TrimSpace(s.LastName),
		Email:     strings.TrimSpace(s.Email),
		Phone:     strings.TrimSpace(s.Phone),
		Address:   strings.TrimSpace(s.Address),
		City:      strings.TrimSpace(s.City),
		State:     strings.TrimSpace(s.State),
		Country:   strings.TrimSpace(s.Country),
		Zip:       strings.TrimSpace(s.Zip),
	}
}

// SameAs compares two sets of details field by field after trimming.
func (s ShippingDetails) SameAs(other ShippingDetails) bool {
	return s.Trimmed() == other.Trimmed()
}
