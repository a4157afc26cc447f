package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidURL = errors.New("invalid url")

var validate *validator.Validate

var fetchableSchemes = map[string]bool{"http": true, "https": true, "s3": true}

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("fetchable_url", validateFetchableURL)
}

// Validator exposes the shared instance with the custom tags registered.
func Validator() *validator.Validate {
	return validate
}

func ValidateURL(rawURL string) error {
	if err := validate.Var(rawURL, "required,fetchable_url"); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidURL, rawURL, err)
	}
	return nil
}

func ValidateURLs(urls []string) error {
	for _, u := range urls {
		if err := ValidateURL(u); err != nil {
			return err
		}
	}
	return nil
}

func validateFetchableURL(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if strings.TrimSpace(raw) != raw {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if !fetchableSchemes[strings.ToLower(u.Scheme)] {
		return false
	}
	return u.Host != "" && u.Hostname() != ""
}
