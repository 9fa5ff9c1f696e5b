package storage

import "errors"

// Common client storage errors
var (
	// ErrRecordNotFound indicates that a live record does not exist
	ErrRecordNotFound = errors.New("record not found")

	// ErrOperationNotFound indicates that a pending operation was not found in the outbox
	ErrOperationNotFound = errors.New("pending operation not found")

	// ErrInvalidPayload indicates that a record payload is not a JSON object
	ErrInvalidPayload = errors.New("payload must be a JSON object")

	// ErrInvalidKey indicates an empty table name or primary key
	ErrInvalidKey = errors.New("table and primary key must not be empty")

	// ErrDeviceMismatch indicates that the store was created by another device
	ErrDeviceMismatch = errors.New("device id mismatch")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
