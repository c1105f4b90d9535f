package checkout

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/types"
)

// ShopperEmailTag is the validator tag checking emails with EmailPattern.
const ShopperEmailTag = "shopper_email"

// EmailPattern is the address shape accepted at the shipping step.
var EmailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

var shippingValidator = newShippingValidator()

func newShippingValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)
	RegisterShopperEmail(v)
	return v
}

// RegisterShopperEmail installs the shopper_email tag on v.
func RegisterShopperEmail(v *validator.Validate) {
	_ = v.RegisterValidation(ShopperEmailTag, func(fl validator.FieldLevel) bool {
		return EmailPattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
}

// ValidateShipping trims every field and checks that all nine are present and the email
// is well formed. The trimmed copy is returned on success.
func ValidateShipping(details types.ShippingDetails) (types.ShippingDetails, error) {
	trimmed := details.Trimmed()
	if err := shippingValidator.Struct(trimmed); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return trimmed, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping details")
		}
		fields := map[string]string{}
		for _, fe := range fieldErrs {
			switch fe.Tag() {
			case "required":
				fields[fe.Field()] = "is required"
			case ShopperEmailTag:
				fields[fe.Field()] = "must be a valid email"
			default:
				fields[fe.Field()] = "is invalid"
			}
		}
		return trimmed, pkgerrors.New(pkgerrors.CodeValidation, "please complete your shipping details").WithDetails(fields)
	}
	return trimmed, nil
}

func jsonFieldName(f reflect.StructField) string {
	tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if tag == "" || tag == "-" {
		return f.Name
	}
	return tag
}
