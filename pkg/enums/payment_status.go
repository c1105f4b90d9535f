package enums

// PaymentStatus is the resolution of a payment attempt as reported by the processor.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusSuccessful PaymentStatus = "successful"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusFailed     PaymentStatus = "failed"
)

var paymentStatuses = newSet("payment status",
	PaymentStatusPending, PaymentStatusSuccessful, PaymentStatusCancelled, PaymentStatusFailed)

func (p PaymentStatus) String() string { return string(p) }

func (p PaymentStatus) IsValid() bool { return paymentStatuses.has(p) }

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	return paymentStatuses.parse(value)
}

// PaymentProvider names the processor that settled an order.
type PaymentProvider string

const (
	PaymentProviderPaystack PaymentProvider = "paystack"
	PaymentProviderSquare   PaymentProvider = "square"
)

var paymentProviders = newSet("payment provider", PaymentProviderPaystack, PaymentProviderSquare)

func (p PaymentProvider) String() string { return string(p) }

func (p PaymentProvider) IsValid() bool { return paymentProviders.has(p) }

func ParsePaymentProvider(value string) (PaymentProvider, error) {
	return paymentProviders.parse(value)
}
