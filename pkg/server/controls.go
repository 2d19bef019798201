package server

import (
	"github.com/vladimirvivien/go4vl/v4l2"

	"github.com/J3rr1ck/CamBridge/pkg/videodev"
)

// ControlConfig describes one V4L2 control for the debug API.
type ControlConfig struct {
	ID      v4l2.CtrlID    `json:"id"`
	Name    string         `json:"name"`
	Value   v4l2.CtrlValue `json:"value"`
	Minimum int32          `json:"minimum"`
	Maximum int32          `json:"maximum"`
	Step    int32          `json:"step"`
	Default int32          `json:"default"`
}

// queryControls opens the node briefly and walks its extended controls.
// A camera with an open session keeps the node busy only for streaming,
// so a second read-only open for control introspection is fine.
func queryControls(path string) ([]ControlConfig, error) {
	node, err := videodev.Open(path)
	if err != nil {
		return nil, err
	}
	defer node.Close()

	ctrls, err := v4l2.QueryAllExtControls(node.Fd())
	if err != nil {
		return nil, err
	}

	configs := make([]ControlConfig, 0, len(ctrls))
	for _, ctrl := range ctrls {
		configs = append(configs, ControlConfig{
			ID:      ctrl.ID,
			Name:    ctrl.Name,
			Value:   ctrl.Value,
			Minimum: ctrl.Minimum,
			Maximum: ctrl.Maximum,
			Step:    ctrl.Step,
			Default: ctrl.Default,
		})
	}
	return configs, nil
}
