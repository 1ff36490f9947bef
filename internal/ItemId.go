package internal

import (
	"math"
	"strconv"
	"strings"
)

// ItemId identifies a Workshop item.
type ItemId uint64

func (id ItemId) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseItemId converts a host value into an ItemId. Strings and every numeric kind are
// accepted; zero, negative, fractional and out of range values are not.
func ParseItemId(value any) (ItemId, bool) {
	var id uint64

	switch v := value.(type) {
	case ItemId:
		id = uint64(v)
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		id = parsed
	case int:
		if v <= 0 {
			return 0, false
		}
		id = uint64(v)
	case int8:
		if v <= 0 {
			return 0, false
		}
		id = uint64(v)
	case int16:
		if v <= 0 {
			return 0, false
		}
		id = uint64(v)
	case int32:
		if v <= 0 {
			return 0, false
		}
		id = uint64(v)
	case int64:
		if v <= 0 {
			return 0, false
		}
		id = uint64(v)
	case uint:
		id = uint64(v)
	case uint8:
		id = uint64(v)
	case uint16:
		id = uint64(v)
	case uint32:
		id = uint64(v)
	case uint64:
		id = v
	case float32:
		return ParseItemId(float64(v))
	case float64:
		// Host runtimes hand numbers over as doubles.
		if v <= 0 || v != math.Trunc(v) || v >= math.MaxUint64 {
			return 0, false
		}
		id = uint64(v)
	default:
		return 0, false
	}

	if id == 0 {
		return 0, false
	}
	return ItemId(id), true
}
