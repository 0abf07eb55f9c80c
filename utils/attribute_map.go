package utils

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// AttributeMap is a convenience wrapper for pulling out typed information from a map.
type AttributeMap map[string]interface{}

// Has returns whether the attribute is present.
func (am AttributeMap) Has(name string) bool {
	_, has := am[name]
	return has
}

// String returns the attribute as a string or def when missing.
func (am AttributeMap) String(name, def string) (string, error) {
	x, has := am[name]
	if !has || x == nil {
		return def, nil
	}
	s, err := cast.ToStringE(x)
	if err != nil {
		return def, errors.Wrapf(err, "attribute %q", name)
	}
	return s, nil
}

// Int returns the attribute as an int or def when missing. JSON numbers arrive as float64, which
// is accepted.
func (am AttributeMap) Int(name string, def int) (int, error) {
	x, has := am[name]
	if !has || x == nil {
		return def, nil
	}
	v, err := cast.ToIntE(x)
	if err != nil {
		return def, errors.Wrapf(err, "attribute %q", name)
	}
	return v, nil
}

// Bool returns the attribute as a bool or def when missing.
func (am AttributeMap) Bool(name string, def bool) (bool, error) {
	x, has := am[name]
	if !has || x == nil {
		return def, nil
	}
	v, err := cast.ToBoolE(x)
	if err != nil {
		return def, errors.Wrapf(err, "attribute %q", name)
	}
	return v, nil
}

// Decode fills the struct pointed to by into with the attributes, matching on `json` tags. Values
// are weakly typed so that "640" and 640.0 both decode into an int field. Unknown keys are an error.
func (am AttributeMap) Decode(into interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           into,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return errors.Wrap(decoder.Decode(map[string]interface{}(am)), "cannot decode attributes")
}
