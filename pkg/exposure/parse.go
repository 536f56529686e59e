package exposure

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Shapes of the /getDefaultParamsConfig payload. Only the fields the
// table and filter builders read are declared; everything else is
// ignored.
type paramsConfig struct {
	Data paramsData `json:"data"`
}

type paramsData struct {
	Cameras       []paramsCamera `json:"cameras"`
	FeatureParams []featureParam `json:"featureParams"`
}

type paramsCamera struct {
	ID            *int           `json:"id"`
	Name          string         `json:"name"`
	SupportParams []supportParam `json:"supportParams"`
}

type supportParam struct {
	ID       *int      `json:"id"`
	Name     string    `json:"name"`
	GearMode *gearMode `json:"gearMode"`
}

type featureParam struct {
	ID       *int          `json:"id"`
	Name     string        `json:"name"`
	Modes    []featureMode `json:"modes"`
	GearMode *gearMode     `json:"gearMode"`
}

type featureMode struct {
	Index  *int        `json:"index"`
	Values []gearValue `json:"values"`
}

type gearMode struct {
	Values []gearValue `json:"values"`
}

type gearValue struct {
	Index         *int            `json:"index"`
	Name          json.RawMessage `json:"name"`
	ContinueValue *float64        `json:"continueValue"`
}

// ParseTable builds a Table from the parameter configuration payload.
// The tele camera (id 0, or name "tele") is preferred; the first camera
// with usable exposure options is the fallback.
func ParseTable(payload []byte) (*Table, error) {
	var config paramsConfig
	if err := json.Unmarshal(payload, &config); err != nil {
		return nil, fmt.Errorf("failed to decode parameter config: %w", err)
	}

	var preferred, fallback *paramsCamera
	for i := range config.Data.Cameras {
		camera := &config.Data.Cameras[i]
		if len(cameraOptions(camera, "exposure")) == 0 {
			continue
		}
		if (camera.ID != nil && *camera.ID == 0) || strings.EqualFold(strings.TrimSpace(camera.Name), "tele") {
			preferred = camera
			break
		}
		if fallback == nil {
			fallback = camera
		}
	}

	camera := preferred
	if camera == nil {
		camera = fallback
	}
	if camera == nil {
		return nil, ErrEmptyTable
	}

	table := &Table{
		Exposures: dedupAndSort(cameraOptions(camera, "exposure")),
	}
	for _, opt := range cameraOptions(camera, "gain") {
		table.Gains = append(table.Gains, GainOption{Index: opt.Index, Value: opt.Seconds})
	}
	sort.Slice(table.Gains, func(i, j int) bool { return table.Gains[i].Value < table.Gains[j].Value })

	if len(table.Exposures) == 0 {
		return nil, ErrEmptyTable
	}
	return table, nil
}

// cameraOptions extracts the indexed values of the named support
// parameter from one camera entry.
func cameraOptions(camera *paramsCamera, paramName string) []Option {
	for _, param := range camera.SupportParams {
		if !strings.EqualFold(strings.TrimSpace(param.Name), paramName) {
			continue
		}
		if param.GearMode == nil {
			return nil
		}
		var options []Option
		for _, value := range param.GearMode.Values {
			if value.Index == nil {
				continue
			}
			seconds, ok := parseDuration(value.Name)
			if !ok || seconds <= 0 {
				continue
			}
			options = append(options, Option{Index: *value.Index, Seconds: seconds})
		}
		return options
	}
	return nil
}

// dedupAndSort keeps the smallest duration per index and orders entries
// by ascending duration. Firmware payloads occasionally repeat indices.
func dedupAndSort(options []Option) []Option {
	byIndex := make(map[int]Option, len(options))
	for _, opt := range options {
		if existing, ok := byIndex[opt.Index]; !ok || opt.Seconds < existing.Seconds {
			byIndex[opt.Index] = opt
		}
	}

	out := make([]Option, 0, len(byIndex))
	for _, opt := range byIndex {
		out = append(out, opt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seconds < out[j].Seconds })
	return out
}

// parseDuration accepts the firmware's mixed duration spellings: plain
// numbers, fractions ("1/15"), and suffixed strings ("15s", "125ms",
// "0.5sec", `1/4"`).
func parseDuration(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return validDuration(num)
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, false
	}

	candidate := strings.ToLower(strings.TrimSpace(text))
	if candidate == "" {
		return 0, false
	}

	multiplier := 1.0
	switch {
	case strings.HasSuffix(candidate, "ms"):
		multiplier = 0.001
		candidate = strings.TrimSuffix(candidate, "ms")
	case strings.HasSuffix(candidate, "s"):
		candidate = strings.TrimSuffix(candidate, "s")
	}

	for _, noise := range []string{"seconds", "second", "sec", "″", `"`} {
		candidate = strings.ReplaceAll(candidate, noise, "")
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" || strings.ContainsFunc(candidate, isLetter) {
		return 0, false
	}

	if num, den, ok := strings.Cut(candidate, "/"); ok {
		n, errN := strconv.ParseFloat(strings.TrimSpace(num), 64)
		d, errD := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if errN != nil || errD != nil || d == 0 {
			return 0, false
		}
		return validDuration(n / d * multiplier)
	}

	value, err := strconv.ParseFloat(candidate, 64)
	if err != nil {
		return 0, false
	}
	return validDuration(value * multiplier)
}

func validDuration(seconds float64) (float64, bool) {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, false
	}
	return seconds, true
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
