package client

import "errors"

// Validation errors surfaced synchronously to the initiating UI action.
// Transport failures never reach this level; they are absorbed by the
// polling schedule.
var (
	ErrEmptyRoomName = errors.New("room name cannot be empty")
	ErrRoomExists    = errors.New("room already exists")
	ErrWrongPassword = errors.New("wrong password")
	ErrNotInRoom     = errors.New("not in a room")
	ErrAlreadyInRoom = errors.New("already in a room")
	ErrEmptyMessage  = errors.New("message cannot be empty")
	ErrEmptyUsername = errors.New("username cannot be empty")
	ErrStopped       = errors.New("synchronizer stopped")
)
