package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCodeValues(t *testing.T) {
	assert.Equal(t, StatusCode(0), StatusUnknown)
	assert.Equal(t, StatusCode(1), StatusOK)
	assert.Equal(t, StatusCode(4), StatusDeadlineExceeded)
	assert.Equal(t, StatusCode(9), StatusFailedPrecondition)
	assert.Equal(t, StatusCode(12), StatusInternalError)
	assert.Equal(t, "INTERNAL_ERROR", StatusInternalError.String())
	assert.Equal(t, "StatusCode(42)", StatusCode(42).String())
}

func TestStatusOK(t *testing.T) {
	assert.True(t, NewStatus(StatusOK, "").OK())
	assert.False(t, NewStatus(StatusUnknown, "").OK())
	assert.NoError(t, NewStatus(StatusOK, "").Err())

	err := NewStatus(StatusNotFound, "gone").Err()
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StatusNotFound, se.Status.Code)
	assert.Equal(t, se.Status, StatusFromError(err))
}

func TestStatusJSON(t *testing.T) {
	encoded, err := EncodeStatus(NewStatus(StatusFailedPrecondition, "bad"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"FAILED_PRECONDITION","why":"bad"}`, encoded)

	decoded, err := DecodeStatus(encoded)
	require.NoError(t, err)
	assert.Equal(t, NewStatus(StatusFailedPrecondition, "bad"), decoded)
}

func TestDecodeStatusNumericCode(t *testing.T) {
	decoded, err := DecodeStatus(`{"code":4,"why":""}`)
	require.NoError(t, err)
	assert.Equal(t, StatusDeadlineExceeded, decoded.Code)

	_, err = DecodeStatus(`{"code":"NOPE"}`)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	var c StatusCode
	assert.Error(t, json.Unmarshal([]byte(`99`), &c))
}

func TestParseStatusCode(t *testing.T) {
	c, err := ParseStatusCode("CANCELLED")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, c)

	c, err = ParseStatusCode("11")
	require.NoError(t, err)
	assert.Equal(t, StatusUnimplemented, c)

	_, err = ParseStatusCode("cancelled")
	assert.ErrorIs(t, err, ErrValidation)
}
