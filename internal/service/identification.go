package service

import (
	"regexp"

	"github.com/autolavaggio/kiosk-controller/internal/domain"

	"github.com/go-playground/validator/v10"
)

// License plate: exactly three letters, a hyphen, then 3-4 digits.
// Case-insensitive ("abc-123" is accepted).
var plateRe = regexp.MustCompile(`^[A-Za-z]{3}-[0-9]{3,4}$`)

var identValidate = newIdentValidator()

func newIdentValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails for an empty tag name.
	_ = v.RegisterValidation("plate", func(fl validator.FieldLevel) bool {
		return plateRe.MatchString(fl.Field().String())
	})
	return v
}

// ValidateIdentification checks a fiscal identification value for the given
// invoicing kind. Tax ids currently have no enforced format beyond being
// non-empty; only the license-plate kind carries a structural rule.
func ValidateIdentification(kind domain.IdentificationKind, value string) error {
	switch kind {
	case domain.IdentificationPlate:
		if err := identValidate.Var(value, "required,plate"); err != nil {
			return &domain.ErrValidation{
				Field:   "identification",
				Message: "license plate must be three letters, a hyphen and 3-4 digits",
			}
		}
	case domain.IdentificationTaxID:
		if err := identValidate.Var(value, "required"); err != nil {
			return &domain.ErrValidation{
				Field:   "identification",
				Message: "identification is required",
			}
		}
	default:
		return &domain.ErrValidation{
			Field:   "kind",
			Message: "unknown identification kind",
		}
	}
	return nil
}
