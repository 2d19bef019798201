//go:build linux && (amd64 || arm64)

package videodev

// Hand-laid videodev2.h layouts for 64-bit Linux. Sizes are encoded in the
// ioctl numbers, so a mismatch fails loudly with ENOTTY rather than
// corrupting memory.

const (
	vidiocQueryCap = 0x80685600
	vidiocEnumFmt  = 0xc0405602
	vidiocGetFmt   = 0xc0d05604
	vidiocSetFmt   = 0xc0d05605
	vidiocReqBufs  = 0xc0145608
	vidiocQueryBuf = 0xc0585609

	vidiocQBuf      = 0xc058560f
	vidiocDQBuf     = 0xc0585611
	vidiocStreamOn  = 0x40045612
	vidiocStreamOff = 0x40045613
	vidiocGetParm   = 0xc0cc5615
	vidiocSetParm   = 0xc0cc5616
	vidiocGetCtrl   = 0xc008561b
	vidiocSetCtrl   = 0xc008561c

	vidiocEnumFrameSizes     = 0xc02c564a
	vidiocEnumFrameIntervals = 0xc034564b
)

const (
	bufTypeVideoCapture = 1
	memoryMMAP          = 1
	fieldNone           = 1

	frmsizeTypeDiscrete = 1
	frmivalTypeDiscrete = 1

	capVideoCapture = 0x00000001
	capStreaming    = 0x04000000
	capDeviceCaps   = 0x80000000

	bufFlagTimestampMask      = 0xe000
	bufFlagTimestampMonotonic = 0x2000
)

type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

type v4l2FmtDesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelFormat uint32
	mbusCode    uint32
	reserved    [3]uint32
}

type v4l2FrmSizeDiscrete struct {
	width  uint32
	height uint32
}

type v4l2FrmSizeEnum struct {
	index       uint32
	pixelFormat uint32
	typ         uint32
	discrete    v4l2FrmSizeDiscrete
	stepwise    [4]uint32 // remainder of the union
	reserved    [2]uint32
}

type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

type v4l2FrmIvalEnum struct {
	index       uint32
	pixelFormat uint32
	width       uint32
	height      uint32
	typ         uint32
	discrete    v4l2Fract
	stepwise    [4]uint32 // remainder of the union
	reserved    [2]uint32
}

type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelFormat  uint32
	field        uint32
	bytesPerLine uint32
	sizeImage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

type v4l2Format struct {
	typ uint32
	_   uint32 // union is 8-byte aligned on 64-bit
	pix v4l2PixFormat
	_   [152]byte // rest of the 200-byte fmt union
}

type v4l2CaptureParm struct {
	capability   uint32
	captureMode  uint32
	timePerFrame v4l2Fract
	extendedMode uint32
	readBuffers  uint32
	_            [176]byte // rest of the 200-byte parm union
}

type v4l2StreamParm struct {
	typ     uint32
	capture v4l2CaptureParm
}

type v4l2RequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

type v4l2Timeval struct {
	sec  int64
	usec int64
}

type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesUsed uint32
	flags     uint32
	field     uint32
	_         uint32 // timeval is 8-byte aligned
	timestamp v4l2Timeval
	timecode  [16]byte
	sequence  uint32
	memory    uint32
	m         uint64 // union: offset (MMAP) / userptr / fd
	length    uint32
	reserved2 uint32
	requestFD int32
	_         uint32 // struct is padded to 88 bytes
}

type v4l2Control struct {
	id    uint32
	value int32
}
