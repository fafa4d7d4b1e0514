package httpapi

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/notify"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notify_target", func(fl validator.FieldLevel) bool {
		_, _, err := notify.ParseTarget(fl.Field().String())
		return err == nil
	})
	return v
}

// validationErrors maps failed fields to short messages keyed by json name.
func validationErrors(input any) map[string]string {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return map[string]string{"body": err.Error()}
	}
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		field := fe.Field()
		if ns := fe.Namespace(); strings.Count(ns, ".") > 1 {
			field = ns[strings.Index(ns, ".")+1:]
		}
		out[field] = describe(fe)
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "numeric":
		return "must contain only digits"
	case "alphanum":
		return "must be alphanumeric"
	case "notify_target":
		return "must look like scheme:address"
	default:
		return "failed " + fe.Tag()
	}
}
