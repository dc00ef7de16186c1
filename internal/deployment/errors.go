package deployment

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"

	"github.com/puravida-software/edgeauth/internal/apigee"
)

const (
	TimeoutMessage            = "Deployment timeout. Please try again or use the bundle command to upload the proxy manually."
	InvalidCredentialsMessage = "Invalid credentials or not sufficient permission. Please correct and try again."
)

var (
	ErrUpload             = errors.New("upload failed")
	ErrTimeout            = fmt.Errorf("%w: timeout", ErrUpload)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUpload)
	ErrResourceUpload     = errors.New("resource upload failed")
	ErrStepDefinition     = errors.New("step definition failed")
	ErrStepBinding        = errors.New("step binding failed")
)

// StageError ties an error to the deployment stage that produced it. Its
// message is the message of Err alone, so operators see exactly what the
// management server or the transport reported.
type StageError struct {
	Stage error
	Err   error
}

func (e *StageError) Error() string {
	return e.Err.Error()
}

func (e *StageError) Unwrap() []error {
	return []error{e.Stage, e.Err}
}

// translateUploadError rewrites the two upload failures operators keep
// misreading. Everything else is kept as it is.
func translateUploadError(err error) error {
	var infoErr *apigee.APIInfoError
	switch {
	case isHangUp(err):
		return &StageError{Stage: ErrTimeout, Err: errors.New(TimeoutMessage)}
	case errors.As(err, &infoErr) && infoErr.StatusCode == http.StatusUnauthorized:
		return &StageError{Stage: ErrInvalidCredentials, Err: errors.New(InvalidCredentialsMessage)}
	default:
		return &StageError{Stage: ErrUpload, Err: err}
	}
}

// isHangUp reports whether the server dropped the connection before
// answering.
func isHangUp(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
