package drawbridge

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestResponseError(t *testing.T) {
	if got := RESPONSE_NO_DISK_IN_DRIVE.Error(); got != "No disk in drive." {
		t.Errorf("Error() = %q", got)
	}
	if got := Response(99).Error(); got != "Unknown error." {
		t.Errorf("Error() for an unknown response = %q", got)
	}
	for r := RESPONSE_OK; r <= RESPONSE_MEDIA_TYPE_MISMATCH; r++ {
		if _, ok := responseMessages[r]; !ok {
			t.Errorf("response %d has no message", r)
		}
	}
}

func TestPortError(t *testing.T) {
	err := error(&PortError{Response: RESPONSE_PORT_IN_USE, Err: syscall.EBUSY})
	wrapped := fmt.Errorf("open: %w", err)

	if !errors.Is(wrapped, RESPONSE_PORT_IN_USE) {
		t.Errorf("errors.Is() does not match the response")
	}
	if errors.Is(wrapped, RESPONSE_PORT_NOT_FOUND) {
		t.Errorf("errors.Is() matches a different response")
	}
	if !errors.Is(wrapped, syscall.EBUSY) {
		t.Errorf("errors.Is() does not reach the cause")
	}
}

func TestResponseOf(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want Response
	}{
		{"Nil", nil, RESPONSE_OK},
		{"Response", RESPONSE_WRITE_PROTECTED, RESPONSE_WRITE_PROTECTED},
		{"Wrapped", fmt.Errorf("track 5: %w", RESPONSE_SELECT_TRACK_ERROR), RESPONSE_SELECT_TRACK_ERROR},
		{"PortError", &PortError{Response: RESPONSE_ACCESS_DENIED, Err: syscall.EACCES}, RESPONSE_ACCESS_DENIED},
		{"Other", errors.New("boom"), RESPONSE_ERROR},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResponseOf(tc.err); got != tc.want {
				t.Errorf("ResponseOf() = %v, expected %v", got, tc.want)
			}
		})
	}
}

func TestWindow(t *testing.T) {
	var w window
	for _, b := range []byte("junk1V1,9") {
		w.push(b)
	}
	if !w.isVersion() {
		t.Errorf("window %q not recognized as a version", w[:])
	}
	w.push('0')
	if w.isVersion() {
		t.Errorf("window %q recognized as a version", w[:])
	}

	for _, b := range []byte("abcXYZx1") {
		w.push(b)
	}
	if !w.isAbortAcknowledge() {
		t.Errorf("window %q not recognized as an abort acknowledge", w[:])
	}
}

func TestParseVersion(t *testing.T) {
	testCases := []struct {
		in      string
		major   int
		minor   int
		full    bool
		atLeast bool // 1.9 or later
	}{
		{"V1,9", 1, 9, true, true},
		{"V1.8", 1, 8, false, false},
		{"V2.0", 2, 0, false, true},
	}

	for _, tc := range testCases {
		v := parseVersion(tc.in)
		if v.Major != tc.major || v.Minor != tc.minor || v.FullControlMod != tc.full {
			t.Errorf("parseVersion(%q) = %+v", tc.in, v)
		}
		if v.AtLeast(1, 9) != tc.atLeast {
			t.Errorf("parseVersion(%q).AtLeast(1, 9) = %v", tc.in, !tc.atLeast)
		}
	}
}

func TestFeatures(t *testing.T) {
	v := FirmwareVersion{Major: 1, Minor: 9, Flags1: FLAGS_DISKCHANGE_SUPPORT | FLAGS_DENSITYDETECT_ENABLED}
	if got := v.Features(); len(got) != 2 {
		t.Errorf("Features() = %v, expected 2 names", got)
	}
	if s := v.String(); s != "1.9" {
		t.Errorf("String() = %q, expected \"1.9\"", s)
	}
}
