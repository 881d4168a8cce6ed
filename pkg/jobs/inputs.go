package jobs

import (
	"github.com/go-viper/mapstructure/v2"
)

// decodeInputs decodes spec inputs into out. Values are weakly typed so
// YAML ints, JSON floats and strings all decode, and durations may be
// written as "250ms". Unknown keys are ignored.
func decodeInputs(kind string, in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return &InputError{Kind: kind, Err: err}
	}
	return nil
}
