/*
Package req provides helper functions for request and event payload binding and validation.

It decodes JSON bodies with strict rules (known fields only, one document, bounded size) and
validates the resulting structs with go-playground/validator tags, mapping every failure onto
an errs.CustomError.
*/
package req

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

// MaxJSONBodySize bounds REST JSON request bodies.
const MaxJSONBodySize int64 = 64 << 10 // 64 KB

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// validatorInstance lazily builds the shared validator.
// validator.Validate caches struct metadata and is safe for concurrent use.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate runs struct tag validation on v and maps failures to ErrInvalidParams.
func Validate(v any) *errs.CustomError {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}

	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) && len(invalid) > 0 {
		logx.Debug("Payload validation failed", "field", invalid[0].Field(), "tag", invalid[0].Tag())
	}
	return errs.NewError(errs.ErrInvalidParams)
}

// DecodeJSON strictly decodes a single JSON document from raw bytes into dst and validates it.
func DecodeJSON(raw []byte, dst any) *errs.CustomError {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	if decoder.More() {
		return errs.NewError(errs.ErrExtraContentInBody)
	}

	return Validate(dst)
}

// BindJSON attempts to bind the JSON data from the HTTP request body to the destination struct dst,
// then validates it.
func BindJSON(w http.ResponseWriter, r *http.Request, dst any) *errs.CustomError {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return errs.NewError(errs.ErrUnsupportedMediaType)
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBodySize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	if decoder.More() {
		return errs.NewError(errs.ErrExtraContentInBody)
	}

	return Validate(dst)
}
