package config

import (
	"fmt"
	"reflect"
	"strings"
)

// Validate checks cfg with the same rules the loader applies.
func (c *Config) Validate() error {
	return (&ViperLoader{}).Validate(c)
}

// String returns the full configuration as a formatted string
func (c *Config) String() string {
	return formatStruct(reflect.ValueOf(c).Elem(), reflect.Value{}, "")
}

// Redacted returns the configuration with secrets masked.
// Pass the secrets Config returned by LoadWithSecrets() to mask those values.
func (c *Config) Redacted(secrets *Config) string {
	if secrets == nil {
		return c.String()
	}
	return formatStruct(reflect.ValueOf(c).Elem(), reflect.ValueOf(secrets).Elem(), "")
}

// formatStruct renders v as indented key: value lines. Leaf values set in
// mask are printed as ***. An invalid mask masks nothing.
func formatStruct(v, mask reflect.Value, prefix string) string {
	var sb strings.Builder
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		if !value.CanInterface() {
			continue
		}
		var maskValue reflect.Value
		if mask.IsValid() {
			maskValue = mask.Field(i)
		}

		name := fieldKey(field)

		switch value.Kind() {
		case reflect.Struct:
			fmt.Fprintf(&sb, "%s%s:\n", prefix, name)
			sb.WriteString(formatStruct(value, maskValue, prefix+"  "))
		case reflect.Slice:
			if value.Len() == 0 {
				fmt.Fprintf(&sb, "%s%s: []\n", prefix, name)
				continue
			}
			fmt.Fprintf(&sb, "%s%s:\n", prefix, name)
			for j := 0; j < value.Len(); j++ {
				elem := any(value.Index(j).Interface())
				if shouldRedact(maskValue) {
					elem = "***"
				}
				fmt.Fprintf(&sb, "%s  - %v\n", prefix, elem)
			}
		default:
			display := value.Interface()
			if shouldRedact(maskValue) {
				display = "***"
			}
			fmt.Fprintf(&sb, "%s%s: %v\n", prefix, name, display)
		}
	}
	return sb.String()
}

// fieldKey is the config key of a struct field: its mapstructure tag, or
// the lowercased field name.
func fieldKey(f reflect.StructField) string {
	if tag := f.Tag.Get("mapstructure"); tag != "" && tag != "-" {
		return tag
	}
	return strings.ToLower(f.Name)
}

func shouldRedact(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Map:
		return v.Len() > 0
	case reflect.Struct:
		return false
	default:
		return !v.IsZero()
	}
}
