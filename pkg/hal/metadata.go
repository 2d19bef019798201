package hal

// Key identifies one well-known characteristic, request or result entry.
type Key string

// Static characteristics keys.
const (
	KeyLensFacing            Key = "lens.facing"
	KeySensorOrientation     Key = "sensor.orientation"
	KeyHardwareLevel         Key = "info.supportedHardwareLevel"
	KeyStreamConfigurations  Key = "scaler.availableStreamConfigurations"
	KeyMinFrameDurations     Key = "scaler.availableMinFrameDurations"
	KeyStallDurations        Key = "scaler.availableStallDurations"
	KeyActiveArraySize       Key = "sensor.info.activeArraySize"
	KeyPixelArraySize        Key = "sensor.info.pixelArraySize"
	KeyAeAvailableFpsRanges  Key = "control.aeAvailableTargetFpsRanges"
	KeyAfAvailableModes      Key = "control.afAvailableModes"
	KeyAwbAvailableModes     Key = "control.awbAvailableModes"
	KeyAeAvailableModes      Key = "control.aeAvailableModes"
	KeyJpegThumbnailSizes    Key = "jpeg.availableThumbnailSizes"
	KeyRequestCapabilities   Key = "request.availableCapabilities"
	KeyPartialResultCount    Key = "request.partialResultCount"
	KeyPipelineMaxDepth      Key = "request.pipelineMaxDepth"
	KeySyncMaxLatency        Key = "sync.maxLatency"
	KeySensorTimestampSource Key = "sensor.info.timestampSource"
	KeyMaxNumOutputStreams   Key = "request.maxNumOutputStreams"
)

// Request/result keys.
const (
	KeyControlMode            Key = "control.mode"
	KeyCaptureIntent          Key = "control.captureIntent"
	KeyControlAfMode          Key = "control.afMode"
	KeyControlAeMode          Key = "control.aeMode"
	KeyControlAwbMode         Key = "control.awbMode"
	KeyControlEffectMode      Key = "control.effectMode"
	KeyControlSceneMode       Key = "control.sceneMode"
	KeyVideoStabilizationMode Key = "control.videoStabilizationMode"
	KeyAeTargetFpsRange       Key = "control.aeTargetFpsRange"
	KeyAeExposureCompensation Key = "control.aeExposureCompensation"
	KeyJpegQuality            Key = "jpeg.quality"
	KeyJpegThumbnailQuality   Key = "jpeg.thumbnailQuality"
	KeyJpegThumbnailSize      Key = "jpeg.thumbnailSize"
	KeySensorTimestamp        Key = "sensor.timestamp"
	KeyVendorControls         Key = "vendor.v4l2Controls"
)

// Enum values for the keys above.
const (
	LensFacingFront    int32 = 0
	LensFacingBack     int32 = 1
	LensFacingExternal int32 = 2

	HardwareLevelLimited int32 = 0

	CapabilityBackwardCompatible int32 = 0

	ControlModeOff  int32 = 0
	ControlModeAuto int32 = 1

	AfModeOff  int32 = 0
	AfModeAuto int32 = 1

	AeModeOn int32 = 1

	AwbModeAuto int32 = 1

	EffectModeOff         int32 = 0
	SceneModeDisabled     int32 = 0
	VideoStabilizationOff int32 = 0

	CaptureIntentCustom         int32 = 0
	CaptureIntentPreview        int32 = 1
	CaptureIntentStillCapture   int32 = 2
	CaptureIntentVideoRecord    int32 = 3
	CaptureIntentVideoSnapshot  int32 = 4
	CaptureIntentZeroShutterLag int32 = 5
	CaptureIntentManual         int32 = 6

	SyncMaxLatencyPerFrameControl int32 = 0

	TimestampSourceUnknown  int32 = 0
	TimestampSourceRealtime int32 = 1
)

// StreamConfig is one advertised (format, width, height, direction)
// quadruple.
type StreamConfig struct {
	Format PixelFormat `json:"format"`
	Width  uint32      `json:"width"`
	Height uint32      `json:"height"`
	Output bool        `json:"output"`
}

// DurationEntry binds a stream configuration to a duration in
// nanoseconds (minimum frame duration or stall duration).
type DurationEntry struct {
	Format     PixelFormat `json:"format"`
	Width      uint32      `json:"width"`
	Height     uint32      `json:"height"`
	DurationNs int64       `json:"durationNs"`
}

type FpsRange struct {
	Min int32 `json:"min"`
	Max int32 `json:"max"`
}

type Size struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

type Rect struct {
	Left   int32 `json:"left"`
	Top    int32 `json:"top"`
	Width  int32 `json:"width"`
	Height int32 `json:"height"`
}

// Metadata maps well-known keys to typed values. Static characteristics
// are built once and only ever handed out as clones; request settings and
// dynamic results use the same representation.
type Metadata map[Key]any

// Clone copies the map and the slice-typed values it holds, so the holder
// of a clone cannot mutate the original.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case []StreamConfig:
			out[k] = append([]StreamConfig(nil), vv...)
		case []DurationEntry:
			out[k] = append([]DurationEntry(nil), vv...)
		case []FpsRange:
			out[k] = append([]FpsRange(nil), vv...)
		case []Size:
			out[k] = append([]Size(nil), vv...)
		case []int32:
			out[k] = append([]int32(nil), vv...)
		default:
			out[k] = v
		}
	}
	return out
}

func (m Metadata) Has(k Key) bool {
	_, ok := m[k]
	return ok
}

func (m Metadata) Int32(k Key) (int32, bool) {
	v, ok := m[k].(int32)
	return v, ok
}

func (m Metadata) Int64(k Key) (int64, bool) {
	v, ok := m[k].(int64)
	return v, ok
}

func (m Metadata) StreamConfigs(k Key) []StreamConfig {
	v, _ := m[k].([]StreamConfig)
	return v
}

func (m Metadata) Durations(k Key) []DurationEntry {
	v, _ := m[k].([]DurationEntry)
	return v
}

func (m Metadata) FpsRanges(k Key) []FpsRange {
	v, _ := m[k].([]FpsRange)
	return v
}

func (m Metadata) Rect(k Key) (Rect, bool) {
	v, ok := m[k].(Rect)
	return v, ok
}
