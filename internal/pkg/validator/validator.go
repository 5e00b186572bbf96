package validator

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var assetSymbolPattern = regexp.MustCompile(`^[A-Za-z0-9]{2,12}$`)

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func oneOf(values ...string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		for _, allowed := range values {
			if v == allowed {
				return true
			}
		}
		return false
	}
}

func registerCustomValidations() {
	validate.RegisterValidation("operation_kind", oneOf("buy", "sell", "announce", "exchange"))
	validate.RegisterValidation("quotation_mode", oneOf("manual", "external_index", "live_rate"))
	validate.RegisterValidation("asset_symbol", func(fl validator.FieldLevel) bool {
		return assetSymbolPattern.MatchString(fl.Field().String())
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errors := make(map[string]string)
	for _, err := range validationErrors {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "min":
			errors[field] = "Value is too short (min: " + err.Param() + ")"
		case "max":
			errors[field] = "Value is too long (max: " + err.Param() + ")"
		case "gte":
			errors[field] = "Value must be at least " + err.Param()
		case "lte":
			errors[field] = "Value must be at most " + err.Param()
		case "gt":
			errors[field] = "Value must be greater than " + err.Param()
		case "operation_kind":
			errors[field] = "Invalid kind. Must be: buy, sell, announce, or exchange"
		case "quotation_mode":
			errors[field] = "Invalid quotation mode. Must be: manual, external_index, or live_rate"
		case "asset_symbol":
			errors[field] = "Invalid symbol"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}
