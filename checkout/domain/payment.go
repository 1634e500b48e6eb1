package domain

type PaymentMethod string

const (
	PaymentMethodCreditCard   PaymentMethod = "credit_card"
	PaymentMethodPayPal       PaymentMethod = "paypal"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

func PaymentMethods() []PaymentMethod {
	return []PaymentMethod{PaymentMethodCreditCard, PaymentMethodPayPal, PaymentMethodBankTransfer}
}

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodPayPal, PaymentMethodBankTransfer:
		return true
	}
	return false
}
