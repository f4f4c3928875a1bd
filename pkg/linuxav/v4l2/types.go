//go:build linux

package v4l2

// Rectangle describes a crop or compose rectangle on a subdevice pad.
type Rectangle struct {
	X      int32
	Y      int32
	Width  uint32
	Height uint32
}

// SizeRange describes the frame sizes a subdevice produces for one
// media-bus code. Discrete sizes have Min == Max.
type SizeRange struct {
	MinWidth  uint32
	MinHeight uint32
	MaxWidth  uint32
	MaxHeight uint32
}

// DeviceFormat describes an image format on a video device node.
// Planes is the number of memory planes; it selects between the
// single-planar and multi-planar format APIs.
type DeviceFormat struct {
	Width  uint32
	Height uint32
	Fourcc uint32
	Planes uint32
}

// SubdeviceFormat describes a media-bus frame format on a subdevice pad.
type SubdeviceFormat struct {
	Width    uint32
	Height   uint32
	MbusCode uint32
}

// BufferStatus reports how a dequeued buffer completed.
type BufferStatus int

// Buffer completion statuses.
const (
	BufferSuccess BufferStatus = iota
	BufferError
	BufferCancelled
)

func (s BufferStatus) String() string {
	switch s {
	case BufferSuccess:
		return "success"
	case BufferError:
		return "error"
	case BufferCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Pixel formats.
const (
	PixFmtNV12 = 0x3231564e // 'NV12'

	// IPU3 packed 10-bit Bayer formats, one per bayer order.
	PixFmtIPU3SBGGR10 = 0x62337069 // 'ip3b'
	PixFmtIPU3SGBRG10 = 0x67337069 // 'ip3g'
	PixFmtIPU3SGRBG10 = 0x47337069 // 'ip3G'
	PixFmtIPU3SRGGB10 = 0x72337069 // 'ip3r'
)

// Media-bus formats, from linux/media-bus-format.h.
const (
	MbusFmtFixed = 0x0001

	MbusFmtSBGGR10 = 0x3007
	MbusFmtSGBRG10 = 0x300e
	MbusFmtSGRBG10 = 0x300a
	MbusFmtSRGGB10 = 0x300f
)

// Buffer types.
const (
	bufTypeVideoCapture       = 1
	bufTypeVideoOutput        = 2
	bufTypeVideoCaptureMplane = 9
	bufTypeVideoOutputMplane  = 10
)

// Memory types.
const (
	memoryMmap = 1
)

// Buffer flags.
const (
	bufFlagError = 0x00000040
)

// Capability flags.
const (
	capVideoCapture       = 0x00000001
	capVideoOutput        = 0x00000002
	capVideoCaptureMplane = 0x00001000
	capVideoOutputMplane  = 0x00002000
	capStreaming          = 0x04000000
	capDeviceCaps         = 0x80000000
)

// Subdevice format whichness and selection targets.
const (
	subdevFormatActive = 1

	selTargetCrop    = 0x0000
	selTargetCompose = 0x0100
)

// FormatFourCC converts a 4-byte pixel format to a human-readable string.
func FormatFourCC(format uint32) string {
	b := make([]byte, 4)
	b[0] = byte(format & 0xFF)
	b[1] = byte((format >> 8) & 0xFF)
	b[2] = byte((format >> 16) & 0xFF)
	b[3] = byte((format >> 24) & 0xFF)
	return string(b)
}
