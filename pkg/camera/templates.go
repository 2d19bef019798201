package camera

import (
	"github.com/J3rr1ck/CamBridge/pkg/hal"
)

// ConstructDefaultRequestSettings maps a request template to its preset.
// Presets carry the control modes a UVC device can honour: auto 3A, no
// effects, no stabilization, JPEG quality 90 with a 320x240 thumbnail.
func (s *Session) ConstructDefaultRequestSettings(template hal.RequestTemplate) (hal.Metadata, error) {
	var intent int32
	switch template {
	case hal.TemplatePreview:
		intent = hal.CaptureIntentPreview
	case hal.TemplateStillCapture:
		intent = hal.CaptureIntentStillCapture
	case hal.TemplateVideoRecord:
		intent = hal.CaptureIntentVideoRecord
	case hal.TemplateVideoSnapshot:
		intent = hal.CaptureIntentVideoSnapshot
	case hal.TemplateZeroShutterLag:
		intent = hal.CaptureIntentZeroShutterLag
	case hal.TemplateManual:
		intent = hal.CaptureIntentManual
	default:
		logger.Warnf("camera %s: unknown request template %d, using custom intent", s.cameraID, template)
		intent = hal.CaptureIntentCustom
	}

	fpsRange := hal.FpsRange{Min: 15, Max: 30}
	if ranges := s.dev.chars.FpsRanges(hal.KeyAeAvailableFpsRanges); len(ranges) > 0 {
		fpsRange = ranges[0]
	}

	settings := hal.Metadata{
		hal.KeyCaptureIntent:          intent,
		hal.KeyControlMode:            hal.ControlModeAuto,
		hal.KeyControlEffectMode:      hal.EffectModeOff,
		hal.KeyControlSceneMode:       hal.SceneModeDisabled,
		hal.KeyVideoStabilizationMode: hal.VideoStabilizationOff,
		hal.KeyControlAfMode:          hal.AfModeOff,
		hal.KeyControlAeMode:          hal.AeModeOn,
		hal.KeyControlAwbMode:         hal.AwbModeAuto,
		hal.KeyAeTargetFpsRange:       fpsRange,
		hal.KeyAeExposureCompensation: int32(0),
		hal.KeyJpegQuality:            int32(90),
		hal.KeyJpegThumbnailQuality:   int32(90),
		hal.KeyJpegThumbnailSize:      hal.Size{Width: 320, Height: 240},
	}
	if template == hal.TemplateManual {
		settings[hal.KeyControlMode] = hal.ControlModeOff
	}
	return settings, nil
}
