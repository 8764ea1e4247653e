package drawbridge

// Command is a single-character request understood by the bridge firmware
type Command byte

// Bridge commands
const (
	CMD_VERSION           Command = '?'
	CMD_REWIND            Command = '.'
	CMD_GOTOTRACK         Command = '#'
	CMD_HEAD0             Command = '['
	CMD_HEAD1             Command = ']'
	CMD_READTRACK         Command = '<'
	CMD_ENABLE            Command = '+'
	CMD_DISABLE           Command = '-'
	CMD_WRITETRACK        Command = '>'
	CMD_ENABLEWRITE       Command = '~'
	CMD_DIAGNOSTICS       Command = '&'
	CMD_SWITCHTO_DD       Command = 'D'
	CMD_SWITCHTO_HD       Command = 'H'
	CMD_CHECK_DENSITY     Command = 'T'
	CMD_READTRACKSTREAM   Command = '{'
	CMD_WRITETRACKPRECOMP Command = '}'
	CMD_CHECKDISKEXISTS   Command = '^'
	CMD_ISWRITEPROTECTED  Command = '$'
	CMD_ENABLE_NOWAIT     Command = '*'
	CMD_CHECK_FEATURES    Command = '@'
	CMD_TEST_RPM          Command = 'P'
	CMD_RESET             Command = 'R'

	// Stops an active streaming read
	SPECIAL_ABORT_CHAR byte = 'x'
)

// Request is a command with an optional parameter byte.
// A zero parameter is not transmitted.
type Request struct {
	Command   Command
	Parameter byte
}

// Bytes returns the request as it appears on the wire
func (r Request) Bytes() []byte {
	if r.Parameter == 0 {
		return []byte{byte(r.Command)}
	}
	return []byte{byte(r.Command), r.Parameter}
}

// Surface selects a side of the disk
type Surface int

const (
	SURFACE_UPPER Surface = 0 // head 1
	SURFACE_LOWER Surface = 1 // head 0
)

// SurfaceForHead maps a drive head number to the surface selecting it
func SurfaceForHead(head int) Surface {
	if head == 0 {
		return SURFACE_LOWER
	}
	return SURFACE_UPPER
}

// Feature flags reported by firmware 1.9 and later in the first flags byte
const (
	FLAGS_HIGH_PRECISION_SUPPORT = 1 << 0
	FLAGS_DISKCHANGE_SUPPORT     = 1 << 1
	FLAGS_DRAWBRIDGE_PLUSMODE    = 1 << 2
	FLAGS_DENSITYDETECT_ENABLED  = 1 << 3
	FLAGS_SLOWSEEKING_MODE       = 1 << 4
	FLAGS_INDEX_ALIGN_MODE       = 1 << 5
	FLAGS_FLUX_READ              = 1 << 6
	FLAGS_FIRMWARE_BETA          = 1 << 7
)

var featureNames = []struct {
	flag byte
	name string
}{
	{FLAGS_HIGH_PRECISION_SUPPORT, "high-precision"},
	{FLAGS_DISKCHANGE_SUPPORT, "disk-change"},
	{FLAGS_DRAWBRIDGE_PLUSMODE, "plus-mode"},
	{FLAGS_DENSITYDETECT_ENABLED, "density-detect"},
	{FLAGS_SLOWSEEKING_MODE, "slow-seek"},
	{FLAGS_INDEX_ALIGN_MODE, "index-align"},
	{FLAGS_FLUX_READ, "flux-read"},
	{FLAGS_FIRMWARE_BETA, "beta"},
}

// Raw track buffer sizes. The bridge reads past one revolution so the
// decoder always sees a complete track.
const (
	RawTrackLengthDD = 0x1900*2 + 0x440
	RawTrackLengthHD = 2 * RawTrackLengthDD
)

// Highest track the firmware will seek to
const MaxTrack = 83

// Operation identifies the last high-level operation attempted, for
// error reporting.
type Operation int

const (
	OP_OPEN_PORT Operation = iota
	OP_GET_VERSION
	OP_ENABLE_WRITE
	OP_REWIND
	OP_DISABLE_MOTOR
	OP_ENABLE_MOTOR
	OP_GOTO_TRACK
	OP_SELECT_SURFACE
	OP_READ_TRACK
	OP_WRITE_TRACK
	OP_RUN_DIAGNOSTICS
	OP_SWITCH_DISK_MODE
	OP_READ_TRACK_STREAM
	OP_CHECK_DISK_IN_DRIVE
	OP_CHECK_DISK_WRITE_PROTECTED
	OP_CHECK_DENSITY
	OP_MEASURE_RPM
)

var operationNames = map[Operation]string{
	OP_OPEN_PORT:                  "open port",
	OP_GET_VERSION:                "get version",
	OP_ENABLE_WRITE:               "enable write",
	OP_REWIND:                     "rewind",
	OP_DISABLE_MOTOR:              "disable motor",
	OP_ENABLE_MOTOR:               "enable motor",
	OP_GOTO_TRACK:                 "goto track",
	OP_SELECT_SURFACE:             "select surface",
	OP_READ_TRACK:                 "read track",
	OP_WRITE_TRACK:                "write track",
	OP_RUN_DIAGNOSTICS:            "run diagnostics",
	OP_SWITCH_DISK_MODE:           "switch disk mode",
	OP_READ_TRACK_STREAM:          "read track stream",
	OP_CHECK_DISK_IN_DRIVE:        "check disk in drive",
	OP_CHECK_DISK_WRITE_PROTECTED: "check write protect",
	OP_CHECK_DENSITY:              "check density",
	OP_MEASURE_RPM:                "measure rpm",
}

func (op Operation) String() string {
	if name, ok := operationNames[op]; ok {
		return name
	}
	return "unknown"
}
