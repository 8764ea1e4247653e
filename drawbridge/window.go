package drawbridge

// window holds the last five bytes received, oldest first
type window [5]byte

func (w *window) push(b byte) {
	copy(w[:], w[1:])
	w[4] = b
}

// isVersion matches the reply to a version request: '1' 'V' major sep minor
func (w *window) isVersion() bool {
	return w[0] == '1' && w[1] == 'V' &&
		w[2] >= '1' && w[2] <= '9' &&
		(w[3] == ',' || w[3] == '.') &&
		w[4] >= '0' && w[4] <= '9'
}

// abortAcknowledge is what the firmware sends once a streaming read stops
var abortAcknowledge = window{'X', 'Y', 'Z', SPECIAL_ABORT_CHAR, '1'}

func (w *window) isAbortAcknowledge() bool {
	return *w == abortAcknowledge
}
