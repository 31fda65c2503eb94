package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode identifies the class of a garage domain failure.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = 0

	// Client errors
	ErrCodeNotFound           ErrorCode = 1000
	ErrCodeInvariantViolation ErrorCode = 1001
	ErrCodeInsufficientStock  ErrorCode = 1002
	ErrCodeConflict           ErrorCode = 1003
	ErrCodeUnauthenticated    ErrorCode = 1004
	ErrCodeAlreadyExists      ErrorCode = 1005

	// Server errors
	ErrCodeInternal ErrorCode = 2000
)

// StockShortage describes why a reconciliation was rejected.
type StockShortage struct {
	StockRecordID int64  `json:"stock_record_id"`
	PartName      string `json:"part_name"`
	Available     int32  `json:"available"`
	Requested     int32  `json:"requested"`
}

// GarageError is the typed error returned by the ledger, the reconciliation
// engine and the service record store.
type GarageError struct {
	Code     ErrorCode
	Message  string
	Details  map[string]interface{}
	Shortage *StockShortage
	Cause    error
}

// Error is the client-facing message. Cause stays out of it and is only
// reachable through Unwrap.
func (e *GarageError) Error() string {
	return e.Message
}

func (e *GarageError) Unwrap() error {
	return e.Cause
}

// Is matches on Code so callers can compare against the sentinels below.
func (e *GarageError) Is(target error) bool {
	t, ok := target.(*GarageError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// GRPCStatus lets status.FromError classify a GarageError.
func (e *GarageError) GRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *GarageError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeNotFound:
		return codes.NotFound
	case ErrCodeInvariantViolation:
		return codes.InvalidArgument
	case ErrCodeInsufficientStock:
		return codes.FailedPrecondition
	case ErrCodeConflict:
		return codes.Aborted
	case ErrCodeUnauthenticated:
		return codes.Unauthenticated
	case ErrCodeAlreadyExists:
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}

var (
	ErrNotFound           = &GarageError{Code: ErrCodeNotFound, Message: "not found"}
	ErrInvariantViolation = &GarageError{Code: ErrCodeInvariantViolation, Message: "invariant violation"}
	ErrInsufficientStock  = &GarageError{Code: ErrCodeInsufficientStock, Message: "insufficient stock"}
	ErrConflict           = &GarageError{Code: ErrCodeConflict, Message: "conflict"}
	ErrUnauthenticated    = &GarageError{Code: ErrCodeUnauthenticated, Message: "unauthenticated"}
	ErrAlreadyExists      = &GarageError{Code: ErrCodeAlreadyExists, Message: "already exists"}
)

// NotFound never says whether the row exists under another tenant.
func NotFound(entity string, id int64) *GarageError {
	return &GarageError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %d not found", entity, id),
		Details: map[string]interface{}{"entity": entity, "id": id},
	}
}

func InvariantViolation(format string, args ...interface{}) *GarageError {
	return &GarageError{
		Code:    ErrCodeInvariantViolation,
		Message: fmt.Sprintf(format, args...),
	}
}

func InsufficientStock(stockRecordID int64, partName string, available, requested int32) *GarageError {
	return &GarageError{
		Code: ErrCodeInsufficientStock,
		Message: fmt.Sprintf("Insufficient stock for %q. Available: %d, Requested: %d",
			partName, available, requested),
		Shortage: &StockShortage{
			StockRecordID: stockRecordID,
			PartName:      partName,
			Available:     available,
			Requested:     requested,
		},
	}
}

func Conflict(attempts int, cause error) *GarageError {
	return &GarageError{
		Code:    ErrCodeConflict,
		Message: fmt.Sprintf("concurrent update conflict after %d attempts", attempts),
		Details: map[string]interface{}{"attempts": attempts},
		Cause:   cause,
	}
}

func Unauthenticated(message string) *GarageError {
	return &GarageError{Code: ErrCodeUnauthenticated, Message: message}
}

func AlreadyExists(format string, args ...interface{}) *GarageError {
	return &GarageError{
		Code:    ErrCodeAlreadyExists,
		Message: fmt.Sprintf(format, args...),
	}
}

// ShortageOf extracts the shortage carried by an InsufficientStock error.
func ShortageOf(err error) (*StockShortage, bool) {
	var ge *GarageError
	if stderrors.As(err, &ge) && ge.Shortage != nil {
		return ge.Shortage, true
	}
	return nil, false
}

// CodeOf returns ErrCodeInternal for anything that is not a GarageError.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var ge *GarageError
	if stderrors.As(err, &ge) {
		return ge.Code
	}
	return ErrCodeInternal
}
