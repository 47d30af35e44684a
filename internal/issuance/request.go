package issuance

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
)

// Request is the data needed to issue one certificate.
type Request struct {
	SubjectName   string `json:"studentName" validate:"required,max=200"`
	GuardianName  string `json:"fatherName" validate:"required,max=200"`
	SubjectEmail  string `json:"email" validate:"required,email,max=320"`
	District      string `json:"district" validate:"required,max=120"`
	State         string `json:"state" validate:"required,max=120"`
	CourseName    string `json:"courseName" validate:"required,max=200"`
	InstituteName string `json:"instituteName,omitempty" validate:"omitempty,max=200"`
	GeneratedBy   string `json:"generatedBy,omitempty" validate:"omitempty,max=120"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// Normalize trims every field and lowercases the email.
func (r Request) Normalize() Request {
	r.SubjectName = strings.TrimSpace(r.SubjectName)
	r.GuardianName = strings.TrimSpace(r.GuardianName)
	r.SubjectEmail = strings.ToLower(strings.TrimSpace(r.SubjectEmail))
	r.District = strings.TrimSpace(r.District)
	r.State = strings.TrimSpace(r.State)
	r.CourseName = strings.TrimSpace(r.CourseName)
	r.InstituteName = strings.TrimSpace(r.InstituteName)
	r.GeneratedBy = strings.TrimSpace(r.GeneratedBy)
	return r
}

// Validate checks a normalized request. Field errors are reported as details
// keyed by the JSON field name.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
		}
		details := map[string]string{}
		for _, fe := range errs {
			details[fe.Field()] = fieldMessage(fe)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	}
	return "is invalid"
}
