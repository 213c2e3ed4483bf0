package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
	ErrIntegrity     = errors.New("ledger integrity violation")
	ErrMalformed     = errors.New("malformed upstream record")
	ErrInvalidWallet = errors.New("invalid wallet address")
	ErrSyncRunning   = errors.New("sync already in progress")
)
