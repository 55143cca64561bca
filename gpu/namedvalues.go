package gpu

import (
	"github.com/pkg/errors"
)

// NamedValuesMap map names to any of the supported option value types: string, int64, []int64, float32 and bool.
//
// It is used to pass backend specific options to Backend.NewContext.
type NamedValuesMap map[string]any

// validate checks that all values are of one of the supported types.
func (m NamedValuesMap) validate() error {
	for key, anyValue := range m {
		switch anyValue.(type) {
		case string, int64, []int64, float32, bool:
			// OK.
		default:
			return errors.Errorf("option (NamedValuesMap) %q was set to unsupported type %T (value=%v). "+
				"Only values of type string, int64, []int64, float32 and bool are supported.",
				key, anyValue, anyValue)
		}
	}
	return nil
}

// Bool returns the value of the option key, or defaultValue if it is not set.
// It returns an error if the option is set to a different type.
func (m NamedValuesMap) Bool(key string, defaultValue bool) (bool, error) {
	return getNamedValue(m, key, defaultValue)
}

// Int64 returns the value of the option key, or defaultValue if it is not set.
// It returns an error if the option is set to a different type.
func (m NamedValuesMap) Int64(key string, defaultValue int64) (int64, error) {
	return getNamedValue(m, key, defaultValue)
}

// String returns the value of the option key, or defaultValue if it is not set.
// It returns an error if the option is set to a different type.
func (m NamedValuesMap) String(key string, defaultValue string) (string, error) {
	return getNamedValue(m, key, defaultValue)
}

// Float32 returns the value of the option key, or defaultValue if it is not set.
// It returns an error if the option is set to a different type.
func (m NamedValuesMap) Float32(key string, defaultValue float32) (float32, error) {
	return getNamedValue(m, key, defaultValue)
}

// Int64List returns the value of the option key, or defaultValue if it is not set.
// It returns an error if the option is set to a different type.
func (m NamedValuesMap) Int64List(key string, defaultValue []int64) ([]int64, error) {
	return getNamedValue(m, key, defaultValue)
}

func getNamedValue[T any](m NamedValuesMap, key string, defaultValue T) (T, error) {
	anyValue, found := m[key]
	if !found {
		return defaultValue, nil
	}
	value, ok := anyValue.(T)
	if !ok {
		return defaultValue, NewError(InvalidParams, "option %q should be of type %T, got %T (value=%v)",
			key, defaultValue, anyValue, anyValue)
	}
	return value, nil
}
