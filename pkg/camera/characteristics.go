package camera

import (
	"sort"

	"github.com/J3rr1ck/CamBridge/pkg/hal"
	"github.com/J3rr1ck/CamBridge/pkg/videodev"
)

// CharacteristicsOptions carries the host-provided bits of the static
// metadata that cannot be derived from the device itself.
type CharacteristicsOptions struct {
	LensFacing        int32
	SensorOrientation int32
	PipelineDepth     int
}

const (
	defaultPipelineDepth = 4
	minPipelineDepth     = 3
	fallbackFps          = 30.0
)

// directFormatMap maps V4L2 fourcc codes to the HAL formats they can be
// delivered as without conversion.
var directFormatMap = map[uint32]hal.PixelFormat{
	FourCCYUYV:   hal.PixelFormatYCbCr422I,
	FourCCYUV420: hal.PixelFormatYCbCr420888,
	FourCCNV12:   hal.PixelFormatYCbCr420888,
	FourCCNV21:   hal.PixelFormatYCrCb420SP,
}

// BuildCharacteristics derives the immutable static metadata from the
// enumerated format table:
//
//  1. every directly mappable (fourcc, w, h) is advertised as-is,
//  2. every MJPEG size additionally advertises BLOB and a decoder-backed
//     flexible 4:2:0 stream,
//  3. every packed 4:2:2 size additionally advertises a conversion-backed
//     flexible 4:2:0 stream.
//
// Each advertised configuration gets a minimum frame duration of
// 1e9/maxFps and a stall duration of zero, so the duration tables cover
// exactly the configuration table.
func BuildCharacteristics(formats []videodev.FormatInfo, opts CharacteristicsOptions) hal.Metadata {
	depth := opts.PipelineDepth
	if depth == 0 {
		depth = defaultPipelineDepth
	}
	if depth < minPipelineDepth {
		depth = minPipelineDepth
	}

	type cfgKey struct {
		format hal.PixelFormat
		w, h   uint32
	}
	var (
		configs   []hal.StreamConfig
		minDurs   []hal.DurationEntry
		stalls    []hal.DurationEntry
		seen      = map[cfgKey]bool{}
		fpsSeen   = map[hal.FpsRange]bool{}
		fpsRanges []hal.FpsRange
	)

	addConfig := func(format hal.PixelFormat, w, h uint32, rates []float64) {
		k := cfgKey{format, w, h}
		if seen[k] {
			return
		}
		seen[k] = true

		maxFps := 0.0
		for _, r := range rates {
			if r > maxFps {
				maxFps = r
			}
		}
		if maxFps <= 0 {
			maxFps = fallbackFps
		}

		configs = append(configs, hal.StreamConfig{Format: format, Width: w, Height: h, Output: true})
		minDurs = append(minDurs, hal.DurationEntry{Format: format, Width: w, Height: h, DurationNs: int64(1e9 / maxFps)})
		stalls = append(stalls, hal.DurationEntry{Format: format, Width: w, Height: h, DurationNs: 0})

		if format == hal.PixelFormatYCbCr420888 {
			for _, r := range rates {
				fps := int32(r + 0.5)
				if fps <= 0 {
					continue
				}
				rng := hal.FpsRange{Min: fps, Max: fps}
				if !fpsSeen[rng] {
					fpsSeen[rng] = true
					fpsRanges = append(fpsRanges, rng)
				}
			}
		}
	}

	var maxW, maxH uint32
	for _, f := range formats {
		if f.Width > maxW {
			maxW = f.Width
		}
		if f.Height > maxH {
			maxH = f.Height
		}

		if halFmt, ok := directFormatMap[f.PixelFormat]; ok {
			addConfig(halFmt, f.Width, f.Height, f.FrameRates)
		}
		switch f.PixelFormat {
		case FourCCMJPEG, FourCCJPEG:
			addConfig(hal.PixelFormatBlob, f.Width, f.Height, f.FrameRates)
			addConfig(hal.PixelFormatYCbCr420888, f.Width, f.Height, f.FrameRates)
		case FourCCYUYV:
			addConfig(hal.PixelFormatYCbCr420888, f.Width, f.Height, f.FrameRates)
		}
	}

	if maxW == 0 {
		maxW = 640
	}
	if maxH == 0 {
		maxH = 480
	}
	if len(fpsRanges) == 0 {
		fpsRanges = []hal.FpsRange{{Min: 15, Max: 30}}
	}
	sort.Slice(fpsRanges, func(i, j int) bool {
		if fpsRanges[i].Min != fpsRanges[j].Min {
			return fpsRanges[i].Min < fpsRanges[j].Min
		}
		return fpsRanges[i].Max < fpsRanges[j].Max
	})

	return hal.Metadata{
		hal.KeyLensFacing:            opts.LensFacing,
		hal.KeySensorOrientation:     opts.SensorOrientation,
		hal.KeyHardwareLevel:         hal.HardwareLevelLimited,
		hal.KeyStreamConfigurations:  configs,
		hal.KeyMinFrameDurations:     minDurs,
		hal.KeyStallDurations:        stalls,
		hal.KeyActiveArraySize:       hal.Rect{Left: 0, Top: 0, Width: int32(maxW), Height: int32(maxH)},
		hal.KeyPixelArraySize:        hal.Size{Width: maxW, Height: maxH},
		hal.KeyAeAvailableFpsRanges:  fpsRanges,
		hal.KeyAfAvailableModes:      []int32{hal.AfModeOff},
		hal.KeyAeAvailableModes:      []int32{hal.AeModeOn},
		hal.KeyAwbAvailableModes:     []int32{hal.AwbModeAuto},
		hal.KeyJpegThumbnailSizes:    []hal.Size{{Width: 0, Height: 0}, {Width: 160, Height: 120}, {Width: 320, Height: 240}},
		hal.KeyRequestCapabilities:   []int32{hal.CapabilityBackwardCompatible},
		hal.KeyPartialResultCount:    int32(1),
		hal.KeyPipelineMaxDepth:      int32(depth),
		hal.KeySyncMaxLatency:        hal.SyncMaxLatencyPerFrameControl,
		hal.KeySensorTimestampSource: hal.TimestampSourceUnknown,
		hal.KeyMaxNumOutputStreams:   []int32{0, 2, 1},
	}
}

// chooseSource picks the V4L2 format a requested output stream will be
// fed from. Preference order: a directly matching source, then packed
// 4:2:2 at the same geometry, then MJPEG at the same geometry.
func chooseSource(formats []videodev.FormatInfo, stream hal.Stream) (uint32, bool) {
	has := func(fourcc uint32) bool {
		for _, f := range formats {
			if f.PixelFormat == fourcc && f.Width == stream.Width && f.Height == stream.Height {
				return true
			}
		}
		return false
	}

	switch stream.Format {
	case hal.PixelFormatYCbCr422I:
		if has(FourCCYUYV) {
			return FourCCYUYV, true
		}
	case hal.PixelFormatBlob:
		if has(FourCCMJPEG) {
			return FourCCMJPEG, true
		}
		if has(FourCCJPEG) {
			return FourCCJPEG, true
		}
	case hal.PixelFormatYCbCr420888:
		if has(FourCCYUV420) {
			return FourCCYUV420, true
		}
		if has(FourCCYUYV) {
			return FourCCYUYV, true
		}
		if has(FourCCMJPEG) {
			return FourCCMJPEG, true
		}
		if has(FourCCJPEG) {
			return FourCCJPEG, true
		}
	}
	return 0, false
}

// maxFpsFor reports the highest advertised rate for a source format and
// geometry, for the best-effort frame interval hint.
func maxFpsFor(formats []videodev.FormatInfo, fourcc, width, height uint32) float64 {
	maxFps := 0.0
	for _, f := range formats {
		if f.PixelFormat != fourcc || f.Width != width || f.Height != height {
			continue
		}
		for _, r := range f.FrameRates {
			if r > maxFps {
				maxFps = r
			}
		}
	}
	return maxFps
}
