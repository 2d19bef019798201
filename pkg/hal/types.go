package hal

// PixelFormat is the framework-side pixel format of an output stream.
// Values follow the platform graphics constants.
type PixelFormat int32

const (
	PixelFormatYCrCb420SP  PixelFormat = 0x11 // NV21
	PixelFormatYCbCr422I   PixelFormat = 0x14 // interleaved 4:2:2
	PixelFormatBlob        PixelFormat = 0x21 // JPEG
	PixelFormatYCbCr420888 PixelFormat = 0x23 // flexible planar 4:2:0
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatYCrCb420SP:
		return "YCrCb_420_SP"
	case PixelFormatYCbCr422I:
		return "YCbCr_422_I"
	case PixelFormatBlob:
		return "BLOB"
	case PixelFormatYCbCr420888:
		return "YCbCr_420_888"
	}
	return "unknown"
}

type StreamType int32

const (
	StreamTypeOutput StreamType = 0
	StreamTypeInput  StreamType = 1
)

type BufferUsage uint64

const (
	UsageCPUWriteOften BufferUsage = 1 << 1
	UsageCameraWrite   BufferUsage = 1 << 17
)

// Stream is a requested stream descriptor.
type Stream struct {
	ID        int32
	Type      StreamType
	Width     uint32
	Height    uint32
	Format    PixelFormat
	Usage     BufferUsage
	DataSpace int32
}

// StreamConfiguration is the stream set handed to configureStreams and
// isStreamCombinationSupported.
type StreamConfiguration struct {
	Streams []Stream
}

// HalStream is the per-stream answer to configureStreams.
type HalStream struct {
	ID                int32
	OverrideFormat    PixelFormat
	OverrideDataSpace int32
	ProducerUsage     BufferUsage
	MaxBuffers        int32
}

// RequestTemplate selects a default-settings preset.
type RequestTemplate int32

const (
	TemplatePreview        RequestTemplate = 1
	TemplateStillCapture   RequestTemplate = 2
	TemplateVideoRecord    RequestTemplate = 3
	TemplateVideoSnapshot  RequestTemplate = 4
	TemplateZeroShutterLag RequestTemplate = 5
	TemplateManual         RequestTemplate = 6
)

// CaptureRequest names one unit of work. FrameNumber is monotonically
// non-decreasing across a session.
type CaptureRequest struct {
	FrameNumber     int64
	OutputStreamIDs []int32
	Settings        Metadata
}

type BufferStatus int32

const (
	BufferStatusOK    BufferStatus = 0
	BufferStatusError BufferStatus = 1
)

// StreamBuffer references one filled output-ring slot. Handle is the
// opaque native handle of the backing buffer; ReleaseFence, when present,
// marks the completion of writes into it.
type StreamBuffer struct {
	StreamID     int32
	BufferID     int64
	Status       BufferStatus
	Handle       any
	ReleaseFence *Fence
}

// CaptureResult is the final (and only, partialCount is always 1) result
// for a request.
type CaptureResult struct {
	FrameNumber   int64
	PartialResult int32
	OutputBuffers []StreamBuffer
	Result        Metadata
}

type MsgType int32

const (
	MsgTypeError   MsgType = 1
	MsgTypeShutter MsgType = 2
)

type ErrorCode int32

const (
	ErrorDevice  ErrorCode = 1
	ErrorRequest ErrorCode = 2
	ErrorResult  ErrorCode = 3
	ErrorBuffer  ErrorCode = 4
)

// StreamIDInvalid marks an error that is not tied to one stream.
const StreamIDInvalid int32 = -1

type ShutterMsg struct {
	FrameNumber int64
	TimestampNs int64
}

type ErrorMsg struct {
	FrameNumber int64
	StreamID    int32
	Code        ErrorCode
}

// NotifyMsg is either a shutter or an error notification.
type NotifyMsg struct {
	Type    MsgType
	Shutter ShutterMsg
	Error   ErrorMsg
}

func ShutterNotify(frameNumber, timestampNs int64) NotifyMsg {
	return NotifyMsg{
		Type:    MsgTypeShutter,
		Shutter: ShutterMsg{FrameNumber: frameNumber, TimestampNs: timestampNs},
	}
}

func ErrorNotify(frameNumber int64, streamID int32, code ErrorCode) NotifyMsg {
	return NotifyMsg{
		Type:  MsgTypeError,
		Error: ErrorMsg{FrameNumber: frameNumber, StreamID: streamID, Code: code},
	}
}

// CameraCallback is the sink the framework supplies at open. It must be
// safe for concurrent use; the HAL never invokes it with internal locks
// held.
type CameraCallback interface {
	Notify(msgs []NotifyMsg)
	ProcessCaptureResult(results []CaptureResult)
}

type DeviceStatus int32

const (
	DeviceStatusNotPresent DeviceStatus = 0
	DeviceStatusPresent    DeviceStatus = 1
)

func (s DeviceStatus) String() string {
	if s == DeviceStatusPresent {
		return "PRESENT"
	}
	return "NOT_PRESENT"
}

// ProviderCallback receives availability edges.
type ProviderCallback interface {
	CameraDeviceStatusChange(cameraID string, status DeviceStatus)
}
