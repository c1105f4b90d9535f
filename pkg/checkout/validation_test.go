package checkout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/types"
)

func validDetails() types.ShippingDetails {
	return types.ShippingDetails{
		FirstName: "Ada",
		LastName:  "Obi",
		Email:     "ada.obi@example.com",
		Phone:     "+2348000000000",
		Address:   "12 Marina Road",
		City:      "Lagos",
		State:     "Lagos",
		Country:   "Nigeria",
		Zip:       "100001",
	}
}

func TestValidateShipping_TrimsAndAccepts(t *testing.T) {
	in := validDetails()
	in.Email = "  ada.obi@example.com "
	in.City = " Lagos"

	out, err := ValidateShipping(in)
	require.NoError(t, err)
	assert.Equal(t, "ada.obi@example.com", out.Email)
	assert.Equal(t, "Lagos", out.City)
}

func TestValidateShipping_MissingFields(t *testing.T) {
	in := validDetails()
	in.FirstName = "   "
	in.Zip = ""

	_, err := ValidateShipping(in)
	require.Error(t, err)

	var typed *pkgerrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["first_name"])
	assert.Equal(t, "is required", details["zip"])
	assert.NotContains(t, details, "email")
}

func TestValidateShipping_Email(t *testing.T) {
	cases := map[string]bool{
		"ada@example.com":      true,
		"a.b+tag@shop.co.uk":   true,
		"ada@example":          false,
		"ada example@mail.com": false,
		"@example.com":         false,
		"ada@example.c":        false,
	}
	for email, ok := range cases {
		in := validDetails()
		in.Email = email
		_, err := ValidateShipping(in)
		if ok {
			assert.NoError(t, err, email)
		} else {
			assert.Error(t, err, email)
		}
	}
}
