package enums

// CheckoutStage is the position of a checkout attempt in the shipping, payment, review flow.
type CheckoutStage string

const (
	CheckoutStageShipping CheckoutStage = "SHIPPING"
	CheckoutStagePayment  CheckoutStage = "PAYMENT"
	CheckoutStageReview   CheckoutStage = "REVIEW"
)

var checkoutStages = newSet("checkout stage", CheckoutStageShipping, CheckoutStagePayment, CheckoutStageReview)

func (s CheckoutStage) String() string { return string(s) }

func (s CheckoutStage) IsValid() bool { return checkoutStages.has(s) }

func ParseCheckoutStage(value string) (CheckoutStage, error) {
	return checkoutStages.parse(value)
}
