package types

import "errors"

// exported errors
var (
	ErrUnknownRole         = errors.New("unknown role, it should be one of ADMIN, DOCTOR, PHARMACIST, RECEPTIONIST, PATIENT")
	ErrUnknownPermission   = errors.New("unknown permission")
	ErrValidation          = errors.New("validation failed")
	ErrDuplicatePermission = errors.New("duplicate permission")
	ErrAlreadyExists       = errors.New("already exists")
	ErrNotFound            = errors.New("not found")
	ErrUnsupportedChange   = errors.New("persister changes in a way not supported")
	ErrNoPermissions       = errors.New("permission registry is empty")
)
