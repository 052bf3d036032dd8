package task

import (
	"errors"
	"strconv"
)

// Code is the caller-facing error taxonomy. The numeric values are part of the
// external contract. Code implements error so it can be returned directly;
// ErrOk is never returned as an error.
type Code int32

const (
	ErrOk            Code = 0
	ChannelNotOpen   Code = 5
	Permission       Code = 201
	SystemApi        Code = 202
	ParameterCheck   Code = 401
	FileOperationErr Code = 13400001
	Other            Code = 13499999
	TaskEnqueueErr   Code = 21900004
	TaskModeErr      Code = 21900005
	TaskNotFound     Code = 21900006
	TaskStateErr     Code = 21900007
	GroupNotFound    Code = 21900008
)

var codeText = map[Code]string{
	ErrOk:            "ok",
	ChannelNotOpen:   "notification channel not open",
	Permission:       "permission denied",
	SystemApi:        "system api denied",
	ParameterCheck:   "parameter check failed",
	FileOperationErr: "file operation failed",
	Other:            "internal error",
	TaskEnqueueErr:   "task queue is full",
	TaskModeErr:      "task mode mismatch",
	TaskNotFound:     "task not found",
	TaskStateErr:     "illegal task state",
	GroupNotFound:    "group not found",
}

func (c Code) Error() string {
	if s, ok := codeText[c]; ok {
		return "transferq: " + s
	}
	return "transferq: error code " + strconv.Itoa(int(c))
}

// CodeOf maps err onto the taxonomy: nil is ErrOk, a wrapped Code is itself,
// anything else is Other.
func CodeOf(err error) Code {
	if err == nil {
		return ErrOk
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Other
}

// AsError returns nil for ErrOk and c otherwise.
func (c Code) AsError() error {
	if c == ErrOk {
		return nil
	}
	return c
}
