package order

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-orders/internal/domain/payment"
	"github.com/xenking/oolio-orders/internal/domain/pricing"
)

const (
	maxItems      = 100
	maxQuantity   = 10_000
	minPhoneDigit = 7
)

// ItemInput is a cart line.
type ItemInput struct {
	ProductID string
	SKU       string
	Name      string
	ImageURL  string
	// UnitPrice in minor units of the order currency. Ignored when the
	// service has a product catalog.
	UnitPrice int64
	Quantity  int
}

// CreateOrderRequest is the input of CreateOrder.
type CreateOrderRequest struct {
	Customer        Customer
	BillingAddress  Address
	ShippingAddress Address
	Items           []ItemInput
	ShippingMethod  string
	// QuotedShipping, when set, must match the computed shipping cost.
	QuotedShipping   *int64
	PaymentMethod    string
	PromoCode        string
	ReferralEligible bool
	Notes            string
	IdempotencyKey   string
}

// validatedRequest carries the parsed enums of a valid request.
type validatedRequest struct {
	CreateOrderRequest
	shippingMethod pricing.Method
	paymentMethod  payment.Method
}

func validateCreate(req CreateOrderRequest) (validatedRequest, error) {
	v := validatedRequest{CreateOrderRequest: req}

	if len(req.Items) == 0 {
		return v, invalid("items", "at least one item is required")
	}
	if len(req.Items) > maxItems {
		return v, invalid("items", fmt.Sprintf("at most %d items are allowed", maxItems))
	}
	for i, it := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(it.ProductID) == "" {
			return v, invalid(field+".product_id", "is required")
		}
		if it.Quantity <= 0 {
			return v, invalid(field+".quantity", "must be greater than 0")
		}
		if it.Quantity > maxQuantity {
			return v, invalid(field+".quantity", fmt.Sprintf("must be at most %d", maxQuantity))
		}
		if it.UnitPrice < 0 {
			return v, invalid(field+".unit_price", "must not be negative")
		}
	}

	if err := validateEmail(req.Customer.Email); err != nil {
		return v, err
	}
	if err := validateAddress("billing_address", req.BillingAddress); err != nil {
		return v, err
	}
	if err := validateAddress("shipping_address", req.ShippingAddress); err != nil {
		return v, err
	}

	var err error
	if v.shippingMethod, err = pricing.ParseMethod(req.ShippingMethod); err != nil {
		return v, &ValidationError{Field: "shipping_method", Reason: err.Error(), Err: err}
	}
	if v.paymentMethod, err = payment.ParseMethod(req.PaymentMethod); err != nil {
		return v, &ValidationError{Field: "payment_method", Reason: err.Error(), Err: err}
	}
	if req.QuotedShipping != nil && *req.QuotedShipping < 0 {
		return v, invalid("quoted_shipping", "must not be negative")
	}
	return v, nil
}

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return invalid("customer.email", "is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &ValidationError{Field: "customer.email", Reason: "is not a valid address", Err: errors.Wrap(err, "parse email")}
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" {
		return invalid("customer.email", "is not a valid address")
	}
	return nil
}

func validateAddress(field string, a Address) error {
	required := []struct {
		name  string
		value string
	}{
		{"first_name", a.FirstName},
		{"last_name", a.LastName},
		{"line1", a.Line1},
		{"city", a.City},
		{"state", a.State},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
		{"phone", a.Phone},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return invalid(field+"."+r.name, "is required")
		}
	}
	if len(strings.TrimSpace(a.Country)) != 2 {
		return invalid(field+".country", "must be an ISO 3166 alpha-2 code")
	}
	if !validPhone(a.Phone) {
		return invalid(field+".phone", fmt.Sprintf("must contain at least %d digits", minPhoneDigit))
	}
	return nil
}

func validPhone(phone string) bool {
	digits := 0
	for _, r := range phone {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return digits >= minPhoneDigit
}

// normalizeAddress trims fields and upper-cases country and state codes.
func normalizeAddress(a Address) Address {
	a.FirstName = strings.TrimSpace(a.FirstName)
	a.LastName = strings.TrimSpace(a.LastName)
	a.Company = strings.TrimSpace(a.Company)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.Line2 = strings.TrimSpace(a.Line2)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.ToUpper(strings.TrimSpace(a.State))
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	a.Phone = strings.TrimSpace(a.Phone)
	return a
}

// validateDestination checks the fields pricing depends on.
func validateDestination(a Address) error {
	if len(strings.TrimSpace(a.Country)) != 2 {
		return invalid("address.country", "must be an ISO 3166 alpha-2 code")
	}
	return nil
}
