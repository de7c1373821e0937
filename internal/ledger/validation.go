package ledger

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func inputValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		// decimals validate as numbers so gt/gte apply to them
		v.RegisterCustomTypeFunc(func(field reflect.Value) any {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				f, _ := d.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{})
		_ = v.RegisterValidation("money", validMoney)
		_ = v.RegisterValidation("date", func(fl validator.FieldLevel) bool {
			t, ok := fl.Field().Interface().(time.Time)
			return ok && !t.IsZero()
		})
		validate = v
	})
	return validate
}

// maxMoney bounds amounts to what a NUMERIC(12,2) column stores.
var maxMoney = decimal.New(1, 10)

// FitsMoney reports whether d has at most two decimal places and fewer than
// eleven whole digits.
func FitsMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(2)) && d.Abs().LessThan(maxMoney)
}

// validMoney checks the original decimal. fl.Field() only holds the float
// produced by the custom type func, which loses precision.
func validMoney(fl validator.FieldLevel) bool {
	parent := fl.Parent()
	for parent.Kind() == reflect.Pointer {
		parent = parent.Elem()
	}
	if parent.Kind() == reflect.Struct {
		field := parent.FieldByName(fl.StructFieldName())
		for field.Kind() == reflect.Pointer {
			if field.IsNil() {
				return true
			}
			field = field.Elem()
		}
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return FitsMoney(d)
		}
	}
	return FitsMoney(decimal.NewFromFloat(fl.Field().Float()))
}

// validateInput runs struct validation and converts failures into a
// *ValidationError keyed by JSON field name.
func validateInput(in any) error {
	err := inputValidator().Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields[fe.Field()] = fieldMessage(fe)
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "date":
		return "is required"
	case "gt":
		if fe.Param() == "0" {
			return "must be greater than zero"
		}
		return "must be greater than " + fe.Param()
	case "gte":
		if fe.Param() == "0" {
			return "cannot be negative"
		}
		return "must be at least " + fe.Param()
	case "max":
		return "is too long"
	case "money":
		return "must have at most two decimal places and be below 10,000,000,000"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "is invalid"
}
