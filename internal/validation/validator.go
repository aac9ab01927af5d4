package validation

import (
	"unicode"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// register struct-level validation for SubmitRequest: a phone number,
	// when present, must carry at least seven digits.
	v.RegisterStructValidation(submitStructValidation, SubmitRequest{})

	return v
}

func submitStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(SubmitRequest)

	if req.Contact.Phone == "" {
		return
	}
	digits := 0
	for _, r := range req.Contact.Phone {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if digits < 7 {
		sl.ReportError(req.Contact.Phone, "phone", "Phone", "phone_digits", "phone must contain at least 7 digits")
	}
}
