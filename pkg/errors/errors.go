package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Code is the type representing a namespace error code.
type Code[MT any] struct {
	Code uint16
	Name string
}

// New creates a new error with the given code and the message
func (c Code[MT]) New(msg string, args ...any) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: fmt.Errorf(msg, args...),
	}
}

// Wrap creates a new Error with the given code and the cause error
func (c Code[MT]) Wrap(cause error) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: cause,
	}
}

// Is reports whether any error in err's chain carries this code.
func (c Code[MT]) Is(err error) bool {
	var e Error
	if !stderrors.As(err, &e) {
		return false
	}
	return e.Code() == c.Code
}

func (c Code[MT]) String() string {
	return fmt.Sprintf("%s (%d)", c.Name, c.Code)
}

type Error interface {
	error
	Log() *log.Entry
	Code() uint16
	CodeName() string
	Metadata() map[string]string
}

type TypedError[MT any] interface {
	Error
	WithMetadata(MT) TypedError[MT]
	TypedMetadata() MT
}

// ErrorImpl is the default concrete implementation of TypedError.
type ErrorImpl[MT any] struct {
	code     Code[MT]
	cause    error
	metadata MT
}

func (e *ErrorImpl[MT]) Log() *log.Entry {
	return log.WithField("name", e.code.Name).
		WithField("code", e.code.Code).
		WithField("metadata", e.metadata)
}

func (e *ErrorImpl[MT]) Metadata() map[string]string {
	// convert any metadata to map[string]string
	metadata := make(map[string]string)
	buf, err := json.Marshal(e.metadata)
	if err == nil {
		var genericMap map[string]any
		if err := json.Unmarshal(buf, &genericMap); err == nil {
			for k, v := range genericMap {
				vStr := ""
				if v != nil {
					vStr = fmt.Sprintf("%v", v)
				}
				metadata[k] = vStr
			}
		}
	}
	return metadata
}

func (e *ErrorImpl[MT]) TypedMetadata() MT {
	return e.metadata
}

func (e *ErrorImpl[MT]) Code() uint16 {
	return e.code.Code
}

func (e *ErrorImpl[MT]) CodeName() string {
	return e.code.Name
}

// Error() implements the error interface.
func (e *ErrorImpl[MT]) Error() string {
	return fmt.Sprintf("%s: %s", e.code.String(), e.cause.Error())
}

func (e *ErrorImpl[MT]) Unwrap() error {
	return e.cause
}

func (e *ErrorImpl[MT]) WithMetadata(metadata MT) TypedError[MT] {
	e.metadata = metadata
	return e
}

type ValidationMetadata struct {
	Field string `json:"field,omitempty"`
}

type InsufficientNotesMetadata struct {
	UserId  string `json:"user_id"`
	AssetId int    `json:"asset_id"`
	// Required and Available are base-10 encoded uint256 values.
	Required  string `json:"required"`
	Available string `json:"available"`
	// AvailableWithPending is set when the lookup excluded pending notes.
	AvailableWithPending string `json:"available_with_pending,omitempty"`
}

type InsufficientFeeMetadata struct {
	UserId     string `json:"user_id"`
	FeeAssetId int    `json:"fee_asset_id"`
	Required   string `json:"required"`
	Available  string `json:"available"`
}

type StateMetadata struct {
	State string `json:"state"`
}

type TimeoutMetadata struct {
	TxId    string `json:"txid,omitempty"`
	Timeout string `json:"timeout"`
}

type NotFoundMetadata struct {
	Id string `json:"id"`
}

var INTERNAL_ERROR = Code[map[string]any]{0, "INTERNAL_ERROR"}
var VALIDATION_ERROR = Code[ValidationMetadata]{1, "VALIDATION_ERROR"}
var INSUFFICIENT_NOTES = Code[InsufficientNotesMetadata]{2, "INSUFFICIENT_NOTES"}
var INSUFFICIENT_FEE = Code[InsufficientFeeMetadata]{3, "INSUFFICIENT_FEE"}
var STATE_ERROR = Code[StateMetadata]{4, "STATE_ERROR"}
var TIMEOUT_ERROR = Code[TimeoutMetadata]{5, "TIMEOUT_ERROR"}
var NOT_FOUND = Code[NotFoundMetadata]{6, "NOT_FOUND"}
