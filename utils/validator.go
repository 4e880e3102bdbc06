package utils

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields by their json name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	return v
}

// ValidationMessages returns one message per failed rule, or nil when s is valid.
func ValidationMessages(s interface{}) []string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	var messages []string
	for _, fe := range verrs {
		field := fe.Field()
		param := fe.Param()
		unit := ""
		if fe.Kind() == reflect.String {
			unit = " characters"
		}

		switch fe.Tag() {
		case "required", "notblank":
			messages = append(messages, field+" is required")
		case "min", "gte":
			messages = append(messages, field+" must be at least "+param+unit)
		case "max", "lte":
			messages = append(messages, field+" must be at most "+param+unit)
		case "email":
			messages = append(messages, field+" must be a valid email")
		case "url":
			messages = append(messages, field+" must be a valid URL")
		case "len":
			messages = append(messages, field+" must be exactly "+param+unit)
		case "oneof":
			messages = append(messages, field+" must be one of: "+strings.ReplaceAll(param, " ", ", "))
		default:
			messages = append(messages, field+" is invalid")
		}
	}
	return messages
}

func ValidateStruct(s interface{}) error {
	messages := ValidationMessages(s)
	if len(messages) == 0 {
		return nil
	}
	return errors.New(strings.Join(messages, ", "))
}
