package internal

import (
	"encoding/json"
	"strconv"
	"strings"
)

// BoolConverter handles custom JSON unmarshaling for boolean values
// It supports parsing booleans from true/false, strings, and numbers
type BoolConverter bool

// UnmarshalJSON implements the json.Unmarshaler interface for BoolConverter
func (b *BoolConverter) UnmarshalJSON(data []byte) error {
	var directBool bool
	if err := json.Unmarshal(data, &directBool); err == nil {
		*b = BoolConverter(directBool)
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		parsedBool, err := strconv.ParseBool(str)
		if err != nil {
			return err
		}
		*b = BoolConverter(parsedBool)
		return nil
	}

	var num float64
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*b = BoolConverter(num != 0)
	return nil
}

// MarshalJSON implements the json.Marshaler interface for BoolConverter
func (b BoolConverter) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(b))
}

// Uint64Converter decodes 64 bit ids which web APIs send either as decimal strings or
// as plain numbers.
type Uint64Converter uint64

// UnmarshalJSON implements the json.Unmarshaler interface for Uint64Converter
func (u *Uint64Converter) UnmarshalJSON(data []byte) error {
	text := strings.Trim(string(data), `"`)
	if text == "" || text == "null" {
		*u = 0
		return nil
	}

	parsed, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return err
	}
	*u = Uint64Converter(parsed)
	return nil
}

// MarshalJSON implements the json.Marshaler interface for Uint64Converter
func (u Uint64Converter) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(u), 10))
}
