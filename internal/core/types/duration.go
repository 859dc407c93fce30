package types

import (
	"fmt"
	"time"
)

// Duration is a time.Duration that marshals to and from strings like "100ms"
// or "2s" in YAML and JSON.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration string %q: %w", raw, err)
	}

	*d = Duration(value)

	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(data []byte) error {
	value, err := time.ParseDuration(string(data))
	if err != nil {
		return err
	}
	*d = Duration(value)
	return nil
}
