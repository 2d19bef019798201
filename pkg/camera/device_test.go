package camera

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/J3rr1ck/CamBridge/pkg/hal"
)

func TestDoubleOpenRejected(t *testing.T) {
	cb := &recordingCallback{}
	dev := newTestDevice(t, newFakeSource())

	s1, err := dev.Open(cb)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dev.Open(cb); !errors.Is(err, hal.ErrAlreadyInUse) {
		t.Fatalf("second open: %v", err)
	}

	if err := s1.Close(); err != nil {
		t.Fatal(err)
	}
	s2, err := dev.Open(cb)
	if err != nil {
		t.Fatalf("open after close: %v", err)
	}
	s2.Close()
}

func TestOpenValidation(t *testing.T) {
	dev := newTestDevice(t, newFakeSource())
	if _, err := dev.Open(nil); !errors.Is(err, hal.ErrInvalidArgument) {
		t.Fatalf("nil callback: %v", err)
	}

	dev.SetAvailable(false)
	if _, err := dev.Open(&recordingCallback{}); !errors.Is(err, hal.ErrUnavailable) {
		t.Fatalf("absent device: %v", err)
	}
}

func TestIsStreamCombinationSupported(t *testing.T) {
	dev := newTestDevice(t, newFakeSource())

	if !dev.IsStreamCombinationSupported(streamConfig(640, 480)) {
		t.Error("advertised combination rejected")
	}
	if dev.IsStreamCombinationSupported(streamConfig(123, 45)) {
		t.Error("unadvertised geometry accepted")
	}

	cfg := streamConfig(640, 480)
	cfg.Streams[0].Type = hal.StreamTypeInput
	if dev.IsStreamCombinationSupported(cfg) {
		t.Error("input stream accepted")
	}

	cfg = streamConfig(640, 480)
	cfg.Streams = append(cfg.Streams, cfg.Streams[0])
	if dev.IsStreamCombinationSupported(cfg) {
		t.Error("two-stream combination accepted")
	}
}

func TestCharacteristicsImmutable(t *testing.T) {
	dev := newTestDevice(t, newFakeSource())
	chars := dev.Characteristics()

	chars[hal.KeyLensFacing] = int32(99)
	configs := chars.StreamConfigs(hal.KeyStreamConfigurations)
	if len(configs) > 0 {
		configs[0].Width = 1
	}

	fresh := dev.Characteristics()
	if facing, _ := fresh.Int32(hal.KeyLensFacing); facing == 99 {
		t.Error("map mutation leaked into the device copy")
	}
	if fresh.StreamConfigs(hal.KeyStreamConfigurations)[0].Width == 1 {
		t.Error("slice mutation leaked into the device copy")
	}
}

func TestOptionalCallsNotSupported(t *testing.T) {
	dev := newTestDevice(t, newFakeSource())
	if err := dev.SetTorchMode(true); !errors.Is(err, hal.ErrNotSupported) {
		t.Errorf("torch: %v", err)
	}
	if _, err := dev.PhysicalCameraCharacteristics("0"); !errors.Is(err, hal.ErrNotSupported) {
		t.Errorf("physical characteristics: %v", err)
	}
	if _, err := dev.OpenInjectionSession(&recordingCallback{}); !errors.Is(err, hal.ErrNotSupported) {
		t.Errorf("injection: %v", err)
	}
}

func TestSessionStubs(t *testing.T) {
	dev := newTestDevice(t, newFakeSource())
	s, err := dev.Open(&recordingCallback{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.GetCaptureRequestMetadataQueue(); !errors.Is(err, hal.ErrNotSupported) {
		t.Errorf("request fmq: %v", err)
	}
	if err := s.SwitchToOffline(nil); !errors.Is(err, hal.ErrNotSupported) {
		t.Errorf("offline: %v", err)
	}
	required, err := s.IsReconfigurationRequired(nil, nil)
	if err != nil || required {
		t.Errorf("reconfiguration required = %v, %v", required, err)
	}
}

func TestConstructDefaultRequestSettings(t *testing.T) {
	dev := newTestDevice(t, newFakeSource())
	s, err := dev.Open(&recordingCallback{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	preview, err := s.ConstructDefaultRequestSettings(hal.TemplatePreview)
	if err != nil {
		t.Fatal(err)
	}
	if intent, _ := preview.Int32(hal.KeyCaptureIntent); intent != hal.CaptureIntentPreview {
		t.Errorf("preview intent = %d", intent)
	}
	if mode, _ := preview.Int32(hal.KeyControlMode); mode != hal.ControlModeAuto {
		t.Errorf("preview control mode = %d", mode)
	}
	if _, ok := preview[hal.KeyAeTargetFpsRange].(hal.FpsRange); !ok {
		t.Error("preview template carries no AE fps range")
	}

	manual, err := s.ConstructDefaultRequestSettings(hal.TemplateManual)
	if err != nil {
		t.Fatal(err)
	}
	if mode, _ := manual.Int32(hal.KeyControlMode); mode != hal.ControlModeOff {
		t.Errorf("manual control mode = %d", mode)
	}

	// Unknown templates still produce valid settings, with a custom intent.
	custom, err := s.ConstructDefaultRequestSettings(hal.RequestTemplate(42))
	if err != nil {
		t.Fatal(err)
	}
	if intent, _ := custom.Int32(hal.KeyCaptureIntent); intent != hal.CaptureIntentCustom {
		t.Errorf("unknown-template intent = %d, want custom", intent)
	}
	if mode, _ := custom.Int32(hal.KeyControlMode); mode != hal.ControlModeAuto {
		t.Errorf("unknown-template control mode = %d", mode)
	}
}

func TestDumpState(t *testing.T) {
	dev := newTestDevice(t, newFakeSource())
	var out bytes.Buffer
	dev.DumpState(&out)
	text := out.String()
	if !strings.Contains(text, "cam0") || !strings.Contains(text, "session: none") {
		t.Errorf("dump missing fields:\n%s", text)
	}

	cb := &recordingCallback{}
	s := mustOpenConfigured(t, dev, cb, 640, 480)
	defer s.Close()
	out.Reset()
	dev.DumpState(&out)
	if !strings.Contains(out.String(), "640x480") {
		t.Errorf("dump missing stream info:\n%s", out.String())
	}
}
