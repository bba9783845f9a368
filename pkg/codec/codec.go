// Package codec decodes loosely typed request arguments into domain payloads.
package codec

import (
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

var timeType = reflect.TypeOf(time.Time{})

// Decode converts a generic JSON object into a typed payload using its
// mapstructure tags. Unknown keys are ignored, so callers cannot smuggle
// fields such as record references into a payload. Numbers may be float64
// or json.Number; times must be RFC 3339 strings.
func Decode(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: stringToTime,
		TagName:    "mapstructure",
		Result:     out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// stringToTime parses RFC 3339 strings into time.Time. Other inputs are
// left to the decoder, which rejects them.
func stringToTime(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != timeType {
		return data, nil
	}
	s, ok := data.(string)
	if !ok {
		return data, nil
	}
	return time.Parse(time.RFC3339, s)
}
