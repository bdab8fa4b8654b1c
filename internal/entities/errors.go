package entities

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorDeliveryParse     = "DELIVERY_PARSE_FAILED"
	ErrorChatCall          = "CHAT_CALL_FAILED"
	ErrorCRMCall           = "CRM_CALL_FAILED"
	ErrorCRMAuth           = "CRM_AUTH_FAILED"
	ErrorOrderNotFound     = "ORDER_NOT_FOUND"
	ErrorConfigInvalid     = "CONFIG_INVALID"
	ErrorDispatchConflict  = "DISPATCH_CONFLICT"
	ErrorDispatchNotFound  = "DISPATCH_NOT_FOUND"
	ErrorHandlerPanicked   = "HANDLER_PANICKED"
	ErrorSignatureRejected = "SIGNATURE_REJECTED"
)

func newError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func wrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	if source == nil {
		return newError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// ParseError reports an identifier or payload field that could not be read.
func ParseError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorDeliveryParse, metadata)
}

// ChatCallError wraps a rejected chat platform call.
func ChatCallError(source error, message string, metadata map[string]any) error {
	return wrapError(source, goerrors.CategoryExternal, message, http.StatusBadGateway, ErrorChatCall, metadata)
}

// CRMCallError wraps a failed CRM query or update.
func CRMCallError(source error, message string, metadata map[string]any) error {
	return wrapError(source, goerrors.CategoryExternal, message, http.StatusBadGateway, ErrorCRMCall, metadata)
}

// CRMAuthError wraps a failed CRM login.
func CRMAuthError(source error, message string, metadata map[string]any) error {
	return wrapError(source, goerrors.CategoryAuth, message, http.StatusUnauthorized, ErrorCRMAuth, metadata)
}

func OrderNotFoundError(orderNumber string) error {
	return newError("order not found", goerrors.CategoryNotFound, http.StatusNotFound, ErrorOrderNotFound, map[string]any{
		"order_number": orderNumber,
	})
}

func ConfigError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryValidation, http.StatusBadRequest, ErrorConfigInvalid, metadata)
}

func DispatchConflictError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryConflict, http.StatusConflict, ErrorDispatchConflict, metadata)
}

func DispatchNotFoundError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryNotFound, http.StatusNotFound, ErrorDispatchNotFound, metadata)
}

// PanicError converts a recovered panic value into an error.
func PanicError(recovered any, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["panic"] = recovered
	return newError("handler panicked", goerrors.CategoryInternal, http.StatusInternalServerError, ErrorHandlerPanicked, metadata)
}

func SignatureError(source error) error {
	return wrapError(source, goerrors.CategoryAuth, "request signature rejected", http.StatusUnauthorized, ErrorSignatureRejected, nil)
}

// HasTextCode reports whether err carries the given text code.
func HasTextCode(err error, textCode string) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == textCode
}
