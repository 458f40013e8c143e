package errors

import "fmt"

var (
	ErrMissingConfig     = fmt.Errorf("missing required configuration")
	ErrNotConnected      = fmt.Errorf("transport not connected")
	ErrBufferFull        = fmt.Errorf("transport send buffer full")
	ErrSendRejected      = fmt.Errorf("send rejected by backend")
	ErrDeliveryExhausted = fmt.Errorf("delivery retry budget exhausted")
	ErrMessageNotFound   = fmt.Errorf("message not found")
	ErrUserNotFound      = fmt.Errorf("user not found")
	ErrMemberNotFound    = fmt.Errorf("member not found")
	ErrUsernameTaken     = fmt.Errorf("username already taken")
	ErrWorkerPanic       = fmt.Errorf("worker panic")
)
