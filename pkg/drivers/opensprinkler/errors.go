package opensprinkler

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrUnauthorized  = errors.New("unauthorized, check the device password")
	ErrResult        = errors.New("controller rejected request")
	ErrBadResponse   = errors.New("unexpected response from controller")
)

// resultMessages maps the firmware's "result" codes to a readable message.
var resultMessages = map[int]string{
	2:  "unauthorized",
	3:  "mismatch",
	16: "data missing",
	17: "out of range",
	18: "data format error",
	19: "RF code error",
	32: "page not found",
	48: "not permitted",
}
