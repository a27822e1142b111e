// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"errors"
	"strings"
)

// ErrorKind classifies failures so callers can branch on recoverability.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	// KindConfiguration is a malformed or incomplete client configuration, or
	// a session that is not ready. Not retryable.
	KindConfiguration
	// KindValidation is a malformed argument to a single call. Not retryable.
	KindValidation
	// KindEncryption is a failure of the external encryption step.
	KindEncryption
	// KindDecryption is a failure of the external decryption step.
	KindDecryption
	// KindAuthorization means the caller lacks permission to decrypt.
	KindAuthorization
	// KindNetworkFetch is a failed key or chain round trip.
	KindNetworkFetch
	// KindTransaction is a failed contract call or transaction.
	KindTransaction
)

var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrEncryption    = &Error{Kind: KindEncryption}
	ErrDecryption    = &Error{Kind: KindDecryption}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrNetworkFetch  = &Error{Kind: KindNetworkFetch}
	ErrTransaction   = &Error{Kind: KindTransaction}
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindEncryption:
		return "encryption"
	case KindDecryption:
		return "decryption"
	case KindAuthorization:
		return "authorization"
	case KindNetworkFetch:
		return "network fetch"
	case KindTransaction:
		return "transaction"
	default:
		return "unknown"
	}
}

// Retryable reports whether an operation failing with k may succeed if
// repeated without changing its input.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindEncryption, KindDecryption, KindNetworkFetch:
		return true
	default:
		return false
	}
}

// Error is the only error type returned by the public operations of this
// package.
type Error struct {
	Kind ErrorKind
	// Op is the operation that failed, e.g. "EncryptValue".
	Op  string
	Msg string
	Err error
}

// NewError returns an error of the given kind. err may be nil.
func NewError(kind ErrorKind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("fhevm: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels (ErrValidation etc.) by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is of a retryable kind.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}
