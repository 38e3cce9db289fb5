package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"tableside/internal/models"

	"github.com/go-playground/validator/v10"
)

// requestValidator plugs go-playground/validator into echo.
type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{v: v}
}

// Validate returns an invalid-request error naming the first bad field.
func (rv *requestValidator) Validate(i any) error {
	err := rv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return models.Invalid(fmt.Sprintf("%s: must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		}
		return models.Invalid(fmt.Sprintf("%s: must satisfy %s", fe.Field(), fe.Tag()))
	}
	return models.Invalid(err.Error())
}
