package auth

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Credentials is an email and password pair submitted by a user.
type Credentials struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// CredentialValidator checks credentials before they are sent to the provider.
type CredentialValidator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// NewCredentialValidator builds a validator that reports messages using JSON field names.
func NewCredentialValidator() *CredentialValidator {
	locale := en.New()
	translator, _ := ut.New(locale, locale).GetTranslator("en")

	validate := validator.New()
	_ = en_translations.RegisterDefaultTranslations(validate, translator)
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &CredentialValidator{validate: validate, translator: translator}
}

// Validate returns nil when the credentials are well formed, otherwise an error
// whose message lists every problem.
func (v *CredentialValidator) Validate(creds Credentials) error {
	err := v.validate.Struct(creds)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, fe.Translate(v.translator))
	}
	return errors.New(strings.Join(messages, "; "))
}
