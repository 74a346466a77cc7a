package intake

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/medflow/intake-capture/pkg/i18n"
)

var (
	idNumberPattern = regexp.MustCompile(`^[A-Za-z]{1,2}\d{5,6}$`)
	phonePattern    = regexp.MustCompile(`^0[5-7]\d{8}$`)
)

// input mirrors the form for struct validation
type input struct {
	LastName    string `json:"last_name" validate:"required"`
	FirstName   string `json:"first_name" validate:"required"`
	IDNumber    string `json:"id_number" validate:"omitempty,id_number"`
	Phone       string `json:"phone" validate:"phone"`
	DateOfBirth string `json:"date_of_birth" validate:"required"`
	Address     string `json:"address" validate:"required"`
	City        string `json:"city" validate:"required"`
	Gender      string `json:"gender" validate:"required,oneof=F M"`
}

// messageKeys maps each field to the message shown when it fails
var messageKeys = map[string]string{
	FieldLastName:    "form.last_name_required",
	FieldFirstName:   "form.first_name_required",
	FieldIDNumber:    "form.id_number_format",
	FieldPhone:       "form.phone_format",
	FieldDateOfBirth: "form.date_of_birth_required",
	FieldAddress:     "form.address_required",
	FieldCity:        "form.city_required",
	FieldGender:      "form.gender_required",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("id_number", func(fl validator.FieldLevel) bool {
		return idNumberPattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks the trimmed form values, replaces the form's error
// decorations with localized messages and reports whether it is valid
func (f *Form) Validate(l *i18n.Localizer) bool {
	values := f.trimmed()
	in := input{
		LastName:    values[FieldLastName],
		FirstName:   values[FieldFirstName],
		IDNumber:    values[FieldIDNumber],
		Phone:       values[FieldPhone],
		DateOfBirth: values[FieldDateOfBirth],
		Address:     values[FieldAddress],
		City:        values[FieldCity],
		Gender:      values[FieldGender],
	}

	errs := make(map[string]string)
	if err := validate.Struct(in); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, e := range verrs {
				field := e.Field()
				errs[field] = l.T(messageKeys[field])
			}
		}
	}

	f.setErrors(errs)
	return len(errs) == 0
}
