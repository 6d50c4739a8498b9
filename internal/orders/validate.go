package orders

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks a creation request before it is sent: customer fields
// non-empty, at least one item, and every item with a product id and name,
// quantity > 0 and price > 0.
func (r CreateOrderRequest) Validate() error {
	var fields []FieldError

	if err := getValidator().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate create order request: %w", err)
		}
		for _, fe := range verrs {
			fields = append(fields, FieldError{
				Field:  fieldPath(fe.Namespace()),
				Reason: reason(fe),
			})
		}
	}

	for i, item := range r.Items {
		if !item.Price.IsPositive() {
			fields = append(fields, FieldError{
				Field:  fmt.Sprintf("items[%d].price", i),
				Reason: "must be greater than 0",
			})
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// fieldPath drops the root struct name from a validator namespace
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "needs at least " + fe.Param() + " entry"
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
