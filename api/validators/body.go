package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
	"github.com/go-playground/validator/v10"
)

// MaxBodyBytes caps request bodies. Batch issuance is the largest payload.
const MaxBodyBytes = 1 << 20

var ledgerHashRe = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	// content fingerprints and ledger transaction references are both 32 byte hex
	_ = v.RegisterValidation("ledgerhash", func(fl validator.FieldLevel) bool {
		return ledgerHashRe.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// DecodeJSONBody reads a single JSON document into dest and validates it.
func DecodeJSONBody(r *http.Request, dest any) error {
	return decode(r, dest, false)
}

// DecodeOptionalJSONBody behaves like DecodeJSONBody but accepts an empty body,
// leaving dest untouched.
func DecodeOptionalJSONBody(r *http.Request, dest any) error {
	return decode(r, dest, true)
}

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func decode(r *http.Request, dest any, optional bool) error {
	if r.Body == nil || r.Body == http.NoBody {
		if optional {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "request body is required")
	}
	body := http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	defer io.Copy(io.Discard, body)

	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return decodeError(err)
	}
	if decoder.More() {
		return pkgerrors.New(pkgerrors.CodeValidation, "request body must contain a single JSON document")
	}
	return validateStruct(dest)
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request body too large").
			WithDetails(map[string]any{"limitBytes": tooLarge.Limit})
	}
	if errors.Is(err, io.EOF) {
		return pkgerrors.New(pkgerrors.CodeValidation, "request body is required")
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
		WithDetails(map[string]any{"error": err.Error()})
}

func formatValidationErrors(err error) error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		details := make(map[string]string, len(errs))
		for _, fieldErr := range errs {
			details[fieldPath(fieldErr)] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
}

// fieldPath drops the root struct name, leaving e.g. "owner.email".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "email":
		return "must be a valid email"
	case "ledgerhash":
		return "must be a 64 character hex hash"
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	}
	return "is invalid"
}
