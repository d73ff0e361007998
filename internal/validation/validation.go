// Package validation holds the shared request validator.
package validation

import (
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/event-reminders/backend/internal/apperror"
)

var (
	Validate   *validator.Validate
	Translator ut.Translator

	// custom validation tags
	notBlankTag = "notblank"
	timezoneTag = "iana_tz"
)

func init() {
	Validate = validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	Translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(Validate, Translator)

	// Use JSON tag names for errors instead of Go struct names.
	Validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = Validate.RegisterValidation(notBlankTag, notBlankValidation)
	_ = Validate.RegisterValidation(timezoneTag, timezoneValidation)

	registerCustomTranslations(notBlankTag, timezoneTag)
}

// RegisterCustomMessages adds translations for tags reported by struct-level
// validators in other packages. The reported param is used as the message.
func RegisterCustomMessages(tags ...string) {
	registerFn := func(ut.Translator) error { return nil }
	for _, tag := range tags {
		_ = Validate.RegisterTranslation(tag, Translator, registerFn, func(_ ut.Translator, fe validator.FieldError) string {
			if fe.Param() != "" {
				return fe.Param()
			}
			return "is invalid"
		})
	}
}

func registerCustomTranslations(tags ...string) {
	registerFn := func(ut.Translator) error { return nil }
	for _, tag := range tags {
		_ = Validate.RegisterTranslation(tag, Translator, registerFn, translateCustom)
	}
}

func translateCustom(_ ut.Translator, fe validator.FieldError) string {
	switch fe.Tag() {
	case notBlankTag:
		return "this field cannot be blank"
	case timezoneTag:
		return "must be a valid IANA timezone"
	default:
		return ""
	}
}

func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}

func timezoneValidation(fl validator.FieldLevel) bool {
	tz, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	if tz == "" {
		return true
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// Struct validates s and converts failures into an apperror validation error
// carrying one FieldError per failing field, sorted by field name.
func Struct(s interface{}) error {
	err := Validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperror.Validation(err.Error())
	}

	fields := make([]apperror.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperror.FieldError{
			Field: fieldPath(fe),
			Error: fe.Translate(Translator),
		})
	}
	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].Field < fields[j].Field
	})

	return apperror.Validation("Request validation failed", fields...)
}

// fieldPath strips the top-level struct name from the namespace, so
// "createSeriesRequest.recurrence.interval" becomes "recurrence.interval".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx != -1 {
		return ns[idx+1:]
	}
	return fe.Field()
}

// Pagination bounds for list endpoints.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Page validates pagination parameters and applies defaults.
func Page(limit, offset int) (int, int, error) {
	var fields []apperror.FieldError
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		fields = append(fields, apperror.FieldError{Field: "limit", Error: "must be between 1 and 100"})
	}
	if offset < 0 {
		fields = append(fields, apperror.FieldError{Field: "offset", Error: "must be 0 or greater"})
	}
	if len(fields) > 0 {
		return 0, 0, apperror.Validation("Request validation failed", fields...)
	}
	return limit, offset, nil
}
