package services

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strings"

	"entitlement-api/internal/apperrors"
	"entitlement-api/internal/models"

	"github.com/go-playground/validator/v10"
)

// IOSReceipt is a validated App Store submission. Dates are epoch milliseconds.
type IOSReceipt struct {
	ProductID             string
	TransactionID         string
	OriginalTransactionID string
	JWSReceipt            string
	Environment           string // Production or Sandbox
	PurchaseDate          int64
	ExpirationDate        int64
}

// AndroidReceipt is a validated Google Play submission. Dates are epoch milliseconds.
type AndroidReceipt struct {
	ProductID      string
	PurchaseToken  string
	OrderID        string
	PackageName    string
	PurchaseDate   int64
	ExpirationDate int64
}

// Field order below is the order rules are reported in.
type iosPayload struct {
	ProductID             string   `json:"product_id" validate:"required"`
	TransactionID         string   `json:"transaction_id" validate:"required"`
	OriginalTransactionID string   `json:"original_transaction_id" validate:"required"`
	JWSReceipt            string   `json:"jws_receipt" validate:"required"`
	Environment           string   `json:"environment" validate:"required"`
	PurchaseDate          *float64 `json:"purchase_date" validate:"required,gt=0"`
	ExpirationDate        *float64 `json:"expiration_date" validate:"required,gt=0"`
}

type androidPayload struct {
	ProductID      string   `json:"product_id" validate:"required"`
	PurchaseToken  string   `json:"purchase_token" validate:"required"`
	OrderID        string   `json:"order_id" validate:"required"`
	PackageName    string   `json:"package_name" validate:"required"`
	PurchaseDate   *float64 `json:"purchase_date" validate:"required,gt=0"`
	ExpirationDate *float64 `json:"expiration_date" validate:"required,gt=0"`
}

type platformEnvelope struct {
	Platform *string `json:"platform"`
}

// ReceiptValidator checks inbound payloads. Every failure is a single
// validation error naming the first rule that was violated.
type ReceiptValidator struct {
	validate *validator.Validate
}

func NewReceiptValidator() *ReceiptValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &ReceiptValidator{validate: v}
}

// NormalizePlatform accepts "ios" or "android" in any case, surrounding space ignored.
func NormalizePlatform(raw string) (string, error) {
	switch platform := strings.ToLower(strings.TrimSpace(raw)); platform {
	case models.PlatformIOS, models.PlatformAndroid:
		return platform, nil
	case "":
		return "", apperrors.Validation("platform is required")
	default:
		return "", apperrors.Validation("platform must be one of: ios, android")
	}
}

// PlatformOf extracts and normalizes the platform field of a raw request body.
func PlatformOf(body []byte) (string, error) {
	var envelope platformEnvelope
	if err := decodeJSON(body, &envelope); err != nil {
		return "", err
	}
	if envelope.Platform == nil {
		return "", apperrors.Validation("platform is required")
	}
	return NormalizePlatform(*envelope.Platform)
}

// NormalizeEnvironment maps any casing of production/sandbox onto the canonical value.
func NormalizeEnvironment(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production":
		return "Production", nil
	case "sandbox":
		return "Sandbox", nil
	default:
		return "", apperrors.Validation("environment must be Production or Sandbox")
	}
}

func (v *ReceiptValidator) ValidateIOS(body []byte) (*IOSReceipt, error) {
	var payload iosPayload
	if err := decodeJSON(body, &payload); err != nil {
		return nil, err
	}
	trimStrings(&payload.ProductID, &payload.TransactionID, &payload.OriginalTransactionID,
		&payload.JWSReceipt, &payload.Environment)

	if err := v.check(&payload); err != nil {
		return nil, err
	}

	environment, err := NormalizeEnvironment(payload.Environment)
	if err != nil {
		return nil, err
	}

	purchase, expiration, err := validateDates(*payload.PurchaseDate, *payload.ExpirationDate)
	if err != nil {
		return nil, err
	}

	return &IOSReceipt{
		ProductID:             payload.ProductID,
		TransactionID:         payload.TransactionID,
		OriginalTransactionID: payload.OriginalTransactionID,
		JWSReceipt:            payload.JWSReceipt,
		Environment:           environment,
		PurchaseDate:          purchase,
		ExpirationDate:        expiration,
	}, nil
}

func (v *ReceiptValidator) ValidateAndroid(body []byte) (*AndroidReceipt, error) {
	var payload androidPayload
	if err := decodeJSON(body, &payload); err != nil {
		return nil, err
	}
	trimStrings(&payload.ProductID, &payload.PurchaseToken, &payload.OrderID, &payload.PackageName)

	if err := v.check(&payload); err != nil {
		return nil, err
	}

	purchase, expiration, err := validateDates(*payload.PurchaseDate, *payload.ExpirationDate)
	if err != nil {
		return nil, err
	}

	return &AndroidReceipt{
		ProductID:      payload.ProductID,
		PurchaseToken:  payload.PurchaseToken,
		OrderID:        payload.OrderID,
		PackageName:    payload.PackageName,
		PurchaseDate:   purchase,
		ExpirationDate: expiration,
	}, nil
}

// check reports the first failing struct rule.
func (v *ReceiptValidator) check(payload interface{}) error {
	err := v.validate.Struct(payload)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return apperrors.Validation("invalid receipt payload")
	}

	first := fieldErrors[0]
	switch first.Tag() {
	case "required":
		return apperrors.Validation("%s is required", first.Field())
	case "gt":
		return apperrors.Validation("%s must be a positive number", first.Field())
	default:
		return apperrors.Validation("%s is invalid", first.Field())
	}
}

func validateDates(purchase, expiration float64) (int64, int64, error) {
	if !isEpochMillis(purchase) {
		return 0, 0, apperrors.Validation("purchase_date must be a finite positive number")
	}
	if !isEpochMillis(expiration) {
		return 0, 0, apperrors.Validation("expiration_date must be a finite positive number")
	}
	if expiration <= purchase {
		return 0, 0, apperrors.Validation("expiration_date must be after purchase_date")
	}
	return int64(purchase), int64(expiration), nil
}

func isEpochMillis(value float64) bool {
	return value > 0 && !math.IsInf(value, 0) && !math.IsNaN(value) && value < math.MaxInt64
}

func decodeJSON(body []byte, dst interface{}) error {
	if len(body) == 0 {
		return apperrors.Validation("request body is required")
	}

	err := json.Unmarshal(body, dst)
	if err == nil {
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return apperrors.Validation("%s must be a %s", typeErr.Field, jsonTypeName(typeErr.Type))
	}
	return apperrors.Validation("request body must be a JSON object")
}

func jsonTypeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Float32, reflect.Float64, reflect.Int, reflect.Int64:
		return "number"
	default:
		return t.String()
	}
}

func trimStrings(values ...*string) {
	for _, value := range values {
		*value = strings.TrimSpace(*value)
	}
}
