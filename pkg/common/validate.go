package common

import (
	"errors"
	"math"
	"reflect"

	"github.com/go-playground/validator/v10"
)

// TagName matches gin's binding tag so one set of struct tags serves both
// HTTP binding and the TCP front door.
const TagName = "binding"

var validate = NewValidator()

// NewValidator returns a validator that understands the "binary" and
// "finite" tags.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName(TagName)
	if err := RegisterValidations(v); err != nil {
		panic(err)
	}
	return v
}

// RegisterValidations installs the custom tags on v.
func RegisterValidations(v *validator.Validate) error {
	return errors.Join(
		v.RegisterValidation("binary", IsBinary),
		v.RegisterValidation("finite", IsFinite),
	)
}

// IsFinite rejects NaN and ±Inf. Non-float fields always pass.
func IsFinite(fl validator.FieldLevel) bool {
	f := fl.Field()
	switch f.Kind() {
	case reflect.Float32, reflect.Float64:
		x := f.Float()
		return !math.IsNaN(x) && !math.IsInf(x, 0)
	}
	return true
}

// IsBinary accepts 0 or 1 for numeric fields.
func IsBinary(fl validator.FieldLevel) bool {
	f := fl.Field()
	switch f.Kind() {
	case reflect.Float32, reflect.Float64:
		return f.Float() == 0 || f.Float() == 1
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return f.Int() == 0 || f.Int() == 1
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return f.Uint() <= 1
	}
	return false
}

func (p Profile) Validate() error { return validate.Struct(p) }

func (s Sample) Validate() error { return validate.Struct(s) }
