package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrCodeConflict        ErrorCode = "CONFLICT"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeDatabaseError   ErrorCode = "DATABASE_ERROR"
	ErrCodeSignature       ErrorCode = "SIGNATURE_ERROR"
	ErrCodeExternalGateway ErrorCode = "EXTERNAL_GATEWAY_ERROR"
	ErrCodePaymentPending  ErrorCode = "PAYMENT_PENDING"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized, ErrCodeSignature:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeExternalGateway:
		return http.StatusBadGateway
	case ErrCodePaymentPending:
		// Результат станет известен только из вебхука.
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

func hasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

func IsForbidden(err error) bool {
	return hasCode(err, ErrCodeForbidden)
}

func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

func IsSignature(err error) bool {
	return hasCode(err, ErrCodeSignature)
}

func IsGateway(err error) bool {
	return hasCode(err, ErrCodeExternalGateway)
}

func IsPaymentPending(err error) bool {
	return hasCode(err, ErrCodePaymentPending)
}

var (
	ErrGigNotFound      = New(ErrCodeNotFound, "гиг не найден или уже закрыт")
	ErrResponseNotFound = New(ErrCodeNotFound, "отклик не найден")
	ErrProjectNotFound  = New(ErrCodeNotFound, "проект не найден")
	ErrDisputeNotFound  = New(ErrCodeNotFound, "спор не найден")
	ErrUnauthorized     = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden        = New(ErrCodeForbidden, "недостаточно прав")
	ErrInvalidSignature = New(ErrCodeSignature, "подпись вебхука невалидна")
	ErrGigAlreadyFilled = New(ErrCodeConflict, "этот гиг уже занят другим исполнителем")
	ErrAlreadyResponded = New(ErrCodeConflict, "вы уже откликнулись на этот гиг")
	ErrDisputeFinal     = New(ErrCodeConflict, "спор по проекту уже разрешён")
	ErrPaymentFailed    = New(ErrCodeExternalGateway, "не удалось провести оплату, попробуйте ещё раз")
	ErrPaymentPending   = New(ErrCodePaymentPending, "платёж обрабатывается, мы сообщим о результате")
)
