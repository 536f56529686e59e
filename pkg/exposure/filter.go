package exposure

import (
	"encoding/json"
	"fmt"
	"strings"
)

// irCutParamID is the firmware parameter id of the IR-cut element.
const irCutParamID = 8

// FilterOption is one selectable filter position extracted from the
// parameter configuration payload.
type FilterOption struct {
	// Label is the display name for the slot.
	Label string

	// Index is the firmware option index.
	Index int

	// ModeIndex selects the parameter mode carrying the option.
	ModeIndex int

	// ParamID is the owning parameter's id, -1 when the payload does
	// not carry one. Options without an id cannot be applied.
	ParamID int

	// ContinueValue is passed through with the feature parameter.
	ContinueValue float64

	// IRCut marks options applied with the dedicated IR-cut command
	// rather than the generic feature parameter.
	IRCut bool
}

// ParseFilterOptions extracts the filter positions from the parameter
// configuration payload. Tele camera support parameters named like a
// filter are preferred; filter-named feature parameters are the
// fallback. Returns nil when the payload carries no filter information,
// in which case callers keep their fallback labels.
func ParseFilterOptions(payload []byte) []FilterOption {
	var config paramsConfig
	if err := json.Unmarshal(payload, &config); err != nil {
		return nil
	}

	var options []FilterOption
	seen := make(map[string]bool)

	add := func(paramID *int, paramName string, modeIndex int, value gearValue) {
		if value.Index == nil {
			return
		}
		label := canonicalFilterLabel(value.Name, *value.Index)
		key := strings.ToLower(label)
		if seen[key] {
			return
		}
		seen[key] = true

		opt := FilterOption{
			Label:     label,
			Index:     *value.Index,
			ModeIndex: modeIndex,
			ParamID:   -1,
		}
		if paramID != nil {
			opt.ParamID = *paramID
		}
		if value.ContinueValue != nil {
			opt.ContinueValue = *value.ContinueValue
		}
		opt.IRCut = opt.ParamID == irCutParamID || isIRCutName(paramName)
		options = append(options, opt)
	}

	for i := range config.Data.Cameras {
		camera := &config.Data.Cameras[i]
		if (camera.ID == nil || *camera.ID != 0) && !strings.EqualFold(strings.TrimSpace(camera.Name), "tele") {
			continue
		}
		for _, param := range camera.SupportParams {
			if !isFilterName(param.Name) || param.GearMode == nil {
				continue
			}
			for _, value := range param.GearMode.Values {
				add(param.ID, param.Name, 0, value)
			}
		}
	}

	if len(options) == 0 {
		for _, feature := range config.Data.FeatureParams {
			if !strings.Contains(strings.ToLower(feature.Name), "filter") {
				continue
			}
			for _, mode := range feature.Modes {
				modeIndex := 0
				if mode.Index != nil {
					modeIndex = *mode.Index
				}
				for _, value := range mode.Values {
					add(feature.ID, feature.Name, modeIndex, value)
				}
			}
			if feature.GearMode != nil {
				for _, value := range feature.GearMode.Values {
					add(feature.ID, feature.Name, 0, value)
				}
			}
		}
	}

	return options
}

func isFilterName(name string) bool {
	lowered := strings.ToLower(strings.TrimSpace(name))
	return strings.Contains(lowered, "filter") || isIRCutName(lowered)
}

func isIRCutName(name string) bool {
	lowered := strings.ToLower(name)
	return strings.Contains(lowered, "ir cut") ||
		strings.Contains(lowered, "ir-cut") ||
		strings.Contains(lowered, "ircut")
}

// canonicalFilterLabel collapses whitespace and substitutes a slot name
// when the payload label is empty or not a string.
func canonicalFilterLabel(raw json.RawMessage, index int) string {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return fmt.Sprintf("Filter %d", index)
	}
	cleaned := strings.Join(strings.Fields(text), " ")
	if cleaned == "" {
		return fmt.Sprintf("Filter %d", index)
	}
	return cleaned
}
