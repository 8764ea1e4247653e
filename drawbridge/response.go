package drawbridge

import (
	"errors"
	"fmt"
)

// Response is the outcome of a bridge operation. Every value except
// RESPONSE_OK is an error; operations return nil on success.
type Response int

const (
	RESPONSE_OK Response = iota

	// Opening the port
	RESPONSE_PORT_IN_USE
	RESPONSE_PORT_NOT_FOUND
	RESPONSE_PORT_ERROR
	RESPONSE_ACCESS_DENIED
	RESPONSE_COMPORT_CONFIG_ERROR
	RESPONSE_BAUD_RATE_NOT_SUPPORTED
	RESPONSE_ERROR_READING_VERSION
	RESPONSE_ERROR_MALFORMED_VERSION
	RESPONSE_OLD_FIRMWARE

	// Running commands
	RESPONSE_SEND_FAILED
	RESPONSE_SEND_PARAMETER_FAILED
	RESPONSE_READ_RESPONSE_FAILED
	RESPONSE_WRITE_TIMEOUT
	RESPONSE_SERIAL_OVERRUN
	RESPONSE_FRAMING_ERROR
	RESPONSE_ERROR

	// Track selection and writing
	RESPONSE_TRACK_RANGE_ERROR
	RESPONSE_SELECT_TRACK_ERROR
	RESPONSE_WRITE_PROTECTED
	RESPONSE_STATUS_ERROR
	RESPONSE_SEND_DATA_FAILED
	RESPONSE_TRACK_WRITE_RESPONSE_ERROR

	RESPONSE_NO_DISK_IN_DRIVE

	RESPONSE_DIAGNOSTIC_NOT_AVAILABLE
	RESPONSE_USB_SERIAL_BAD
	RESPONSE_CTS_FAILURE
	RESPONSE_REWIND_FAILURE
	RESPONSE_MEDIA_TYPE_MISMATCH
)

var responseMessages = map[Response]string{
	RESPONSE_OK:                         "Last command completed successfully.",
	RESPONSE_PORT_IN_USE:                "The specified port is currently in use by another application.",
	RESPONSE_PORT_NOT_FOUND:             "The specified port was not found.",
	RESPONSE_ACCESS_DENIED:              "The operating system denied access to the specified port.",
	RESPONSE_COMPORT_CONFIG_ERROR:       "We were unable to configure the port.",
	RESPONSE_BAUD_RATE_NOT_SUPPORTED:    "The port does not support the 2M baud rate required by this application.",
	RESPONSE_ERROR_READING_VERSION:      "An error occurred attempting to read the version of the sketch running on the Arduino.",
	RESPONSE_ERROR_MALFORMED_VERSION:    "The Arduino returned an unexpected string when version was requested.",
	RESPONSE_PORT_ERROR:                 "An unknown error occurred attempting to open access to the specified port.",
	RESPONSE_OLD_FIRMWARE:               "The Arduino/DrawBridge is running an older version of the firmware/sketch. Please re-upload.",
	RESPONSE_SEND_FAILED:                "Failed to send the command.",
	RESPONSE_SEND_PARAMETER_FAILED:      "Failed to send the command parameter.",
	RESPONSE_READ_RESPONSE_FAILED:       "No response was received from the bridge.",
	RESPONSE_WRITE_TIMEOUT:              "The bridge timed out while writing the track.",
	RESPONSE_SERIAL_OVERRUN:             "The bridge could not keep up with the data sent.",
	RESPONSE_FRAMING_ERROR:              "The bridge reported a framing error while writing.",
	RESPONSE_ERROR:                      "The bridge reported an error.",
	RESPONSE_TRACK_RANGE_ERROR:          "Track number out of range.",
	RESPONSE_SELECT_TRACK_ERROR:         "The drive failed to seek to the requested track.",
	RESPONSE_WRITE_PROTECTED:            "The disk is write protected.",
	RESPONSE_STATUS_ERROR:               "The bridge returned an unexpected status.",
	RESPONSE_SEND_DATA_FAILED:           "Failed to send the track data.",
	RESPONSE_TRACK_WRITE_RESPONSE_ERROR: "No confirmation was received after writing the track.",
	RESPONSE_NO_DISK_IN_DRIVE:           "No disk in drive.",
	RESPONSE_DIAGNOSTIC_NOT_AVAILABLE:   "Diagnostics are not available.",
	RESPONSE_USB_SERIAL_BAD:             "The USB serial converter does not behave as expected.",
	RESPONSE_CTS_FAILURE:                "The CTS line did not follow the bridge.",
	RESPONSE_REWIND_FAILURE:             "The drive failed to find track 0.",
	RESPONSE_MEDIA_TYPE_MISMATCH:        "Buffer size does not match the disk density.",
}

// Error implements the error interface
func (r Response) Error() string {
	if msg, ok := responseMessages[r]; ok {
		return msg
	}
	return "Unknown error."
}

// ErrNeedsRetry marks an open that failed after resetting the bridge.
// The firmware is rebooting, so opening again is likely to succeed.
var ErrNeedsRetry = errors.New("bridge was reset, open it again")

// PortError is a failure to open or configure the serial port.
// It matches its Response with errors.Is and unwraps to the transport cause.
type PortError struct {
	Response Response
	Err      error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("%s: %v", e.Response.Error(), e.Err)
}

func (e *PortError) Unwrap() error {
	return e.Err
}

func (e *PortError) Is(target error) bool {
	r, ok := target.(Response)
	return ok && r == e.Response
}

// ResponseOf extracts the protocol outcome carried by err.
// nil gives RESPONSE_OK; an error without a Response gives RESPONSE_ERROR.
func ResponseOf(err error) Response {
	if err == nil {
		return RESPONSE_OK
	}
	var portErr *PortError
	if errors.As(err, &portErr) {
		return portErr.Response
	}
	var r Response
	if errors.As(err, &r) {
		return r
	}
	return RESPONSE_ERROR
}
