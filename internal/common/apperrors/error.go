// Package apperrors provides chainable application errors that carry an HTTP
// status code. Errors are declared once as package-level sentinels and derived
// with New, Msg or Err at the call site, so errors.Is keeps working against the
// sentinel while the message is specific to the failure.
package apperrors

// Error is an application error. All derivation methods return a new Error and
// leave the receiver untouched, so sentinels can be shared across goroutines.
type Error interface {
	error
	Unwrap() error // support for errors.Is / errors.As

	New(msg string) Error                  // fresh error using the receiver as template
	Msg(msg string) Error                  // new message, wraps the receiver
	MsgErr(msg string, err ...error) Error // new message, wraps the receiver and err
	Err(err ...error) Error                // same message, wraps err
	SetExpandError(bool) Error             // ErrorAll includes wrapped errors when true
	SetStatusCode(int) Error               // HTTP status reported for this error
	StatusCode() int
	ErrorAll() string
	UnwrapAll() []error
}
