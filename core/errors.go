package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	BrokerErrorBadInput          = "BROKER_BAD_INPUT"
	BrokerErrorConfiguration     = "BROKER_CONFIGURATION_INVALID"
	BrokerErrorServiceNotFound   = "BROKER_SERVICE_NOT_FOUND"
	BrokerErrorProvider          = "BROKER_PROVIDER_ERROR"
	BrokerErrorRelay             = "BROKER_RELAY_ERROR"
	BrokerErrorStoreUnavailable  = "BROKER_STORE_UNAVAILABLE"
	BrokerErrorRequestExpired    = "BROKER_REQUEST_EXPIRED"
	BrokerErrorUsage             = "BROKER_USAGE_ERROR"
	BrokerErrorInternal          = "BROKER_INTERNAL_ERROR"
	BrokerErrorStateSpaceDrained = "BROKER_STATE_SPACE_EXHAUSTED"
)

var (
	ErrServiceNotConfigured = errors.New("core: service is not configured")
	ErrStoreNotConfigured   = errors.New("core: credential store is not configured")
	ErrExpiredRequest       = errors.New("core: authorization request expired or unknown")
	ErrInvalidState         = errors.New("core: invalid authorization state")
)

// NewConfigurationError reports a missing or malformed service descriptor or
// broker setting. Configuration errors are always returned to the caller.
func NewConfigurationError(message string, metadata map[string]any) error {
	return brokerError(message, goerrors.CategoryBadInput, BrokerErrorConfiguration, metadata)
}

// NewServiceNotConfiguredError wraps ErrServiceNotConfigured for serviceID.
func NewServiceNotConfiguredError(serviceID string) error {
	return brokerWrapError(
		ErrServiceNotConfigured,
		goerrors.CategoryBadInput,
		fmt.Sprintf("core: service %q is not configured", serviceID),
		BrokerErrorConfiguration,
		map[string]any{"service_id": serviceID},
	)
}

// NewProviderError reports a non-success answer from a provider token endpoint.
func NewProviderError(source error, message string, metadata map[string]any) error {
	return brokerWrapError(source, goerrors.CategoryExternal, message, BrokerErrorProvider, metadata)
}

func NewRelayError(source error, message string, metadata map[string]any) error {
	return brokerWrapError(source, goerrors.CategoryExternal, message, BrokerErrorRelay, metadata)
}

func NewTransientStoreError(source error, message string, metadata map[string]any) error {
	return brokerWrapError(source, goerrors.CategoryExternal, message, BrokerErrorStoreUnavailable, metadata)
}

func NewExpiredRequestError(state string) error {
	return brokerWrapError(
		ErrExpiredRequest,
		goerrors.CategoryNotFound,
		"core: authorization request not found",
		BrokerErrorRequestExpired,
		map[string]any{"state_length": len(state)},
	)
}

func NewUsageError(source error, message string) error {
	return brokerWrapError(source, goerrors.CategoryInternal, message, BrokerErrorUsage, nil)
}

func NewBadInputError(message string, field string) error {
	return goerrors.NewValidation("core: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(BrokerErrorBadInput)
}

func IsBadInputError(err error) bool {
	return hasTextCode(err, BrokerErrorBadInput)
}

func IsConfigurationError(err error) bool {
	return hasTextCode(err, BrokerErrorConfiguration) || errors.Is(err, ErrServiceNotConfigured)
}

func IsProviderError(err error) bool {
	return hasTextCode(err, BrokerErrorProvider)
}

func IsRelayError(err error) bool {
	return hasTextCode(err, BrokerErrorRelay)
}

func IsTransientStoreError(err error) bool {
	return hasTextCode(err, BrokerErrorStoreUnavailable)
}

func IsExpiredRequest(err error) bool {
	return errors.Is(err, ErrExpiredRequest) || hasTextCode(err, BrokerErrorRequestExpired)
}

func IsUsageError(err error) bool {
	return errors.Is(err, ErrStoreNotConfigured) || hasTextCode(err, BrokerErrorUsage)
}

// mustSurface reports whether err belongs to the classes the broker returns
// instead of swallowing.
func mustSurface(err error) bool {
	return IsConfigurationError(err) || IsUsageError(err)
}

func brokerErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureBrokerErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrStoreNotConfigured):
		return ensureBrokerErrorEnvelope(
			goerrors.Wrap(err, goerrors.CategoryInternal, err.Error()).WithTextCode(BrokerErrorUsage),
		)
	case errors.Is(err, ErrServiceNotConfigured):
		return ensureBrokerErrorEnvelope(
			goerrors.Wrap(err, goerrors.CategoryBadInput, err.Error()).WithTextCode(BrokerErrorConfiguration),
		)
	case errors.Is(err, ErrExpiredRequest):
		return ensureBrokerErrorEnvelope(
			goerrors.Wrap(err, goerrors.CategoryNotFound, err.Error()).WithTextCode(BrokerErrorRequestExpired),
		)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newBrokerError(err.Error(), goerrors.CategoryBadInput, BrokerErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureBrokerErrorEnvelope(mapped)
}

func brokerError(message string, category goerrors.Category, textCode string, metadata map[string]any) error {
	err := newBrokerError(message, category, textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func brokerWrapError(
	source error,
	category goerrors.Category,
	message string,
	textCode string,
	metadata map[string]any,
) error {
	if source == nil {
		return brokerError(message, category, textCode, metadata)
	}
	err := ensureBrokerErrorEnvelope(
		goerrors.Wrap(source, category, message).WithTextCode(textCode),
	)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func newBrokerError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureBrokerErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureBrokerErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = brokerHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultBrokerTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultBrokerTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return BrokerErrorBadInput
	case goerrors.CategoryNotFound:
		return BrokerErrorServiceNotFound
	case goerrors.CategoryExternal:
		return BrokerErrorProvider
	default:
		return BrokerErrorInternal
	}
}

func brokerHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func hasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}
