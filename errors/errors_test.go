package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceConnectionErrorWrapsAndUnwraps(t *testing.T) {
	inner := stderrors.New("no route to peripheral")
	err := NewDeviceConnectionError(inner)

	assert.Equal(t, "device connection error: no route to peripheral", err.Error())
	assert.Equal(t, inner, err.Unwrap())
	assert.True(t, stderrors.Is(err, inner))
}

func TestDeviceSpecificErrorWrapsAndUnwraps(t *testing.T) {
	inner := stderrors.New("characteristic write failed")
	err := NewDeviceSpecificError(inner)

	assert.Equal(t, "device error: characteristic write failed", err.Error())
	assert.True(t, stderrors.Is(err, inner))
}

func TestInvalidEndpointErrorMessage(t *testing.T) {
	err := &InvalidEndpointError{Endpoint: "firmware"}
	assert.Equal(t, `invalid endpoint "firmware"`, err.Error())
}

func TestNewDeviceErrorMessage(t *testing.T) {
	err := NewDeviceError(7)
	assert.Equal(t, "No device with index 7 available", err.Error())
}

func TestUnknownAndMessageErrorsCarryTheirMessage(t *testing.T) {
	assert.Equal(t, "no communication managers registered", (&UnknownError{Message: "no communication managers registered"}).Error())
	assert.Equal(t, "not routable", (&MessageError{Message: "not routable"}).Error())
}
