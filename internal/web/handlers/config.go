package handlers

import (
	"net/http"

	"github.com/kozaktomas/classroom-attendance/internal/attendance"
	"github.com/kozaktomas/classroom-attendance/internal/database"
	"github.com/kozaktomas/classroom-attendance/internal/detect"
)

// PresetResolver looks up distance presets by name.
type PresetResolver interface {
	Preset(name string) (detect.Preset, error)
	PresetNames() []string
	DisplayFloor() float64
}

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	presets PresetResolver
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(presets PresetResolver) *ConfigHandler {
	return &ConfigHandler{presets: presets}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Presets       []detect.Preset `json:"presets"`
	DefaultPreset string          `json:"default_preset"`
	DisplayFloor  float64         `json:"display_min_confidence"`
	Slots         []string        `json:"slots"`
	Storage       string          `json:"storage"`
}

// Get returns the detection presets and the class schedule
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := ConfigResponse{
		Presets:      []detect.Preset{},
		DisplayFloor: h.presets.DisplayFloor(),
		Slots:        attendance.Slots,
		Storage:      database.BackendName(),
	}
	for _, name := range h.presets.PresetNames() {
		p, err := h.presets.Preset(name)
		if err != nil {
			continue
		}
		resp.Presets = append(resp.Presets, p)
	}
	if def, err := h.presets.Preset(""); err == nil {
		resp.DefaultPreset = def.Name
	}

	respondJSON(w, http.StatusOK, resp)
}
