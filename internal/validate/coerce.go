package validate

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fraudlab/harrier/internal/domain"
)

// FromAny coerces a decoded JSON object into a RawRecord. Only keys present
// in the input appear in the record, so missing-field detection in Parse
// still works. Decode with json.Decoder.UseNumber to keep amount text exact.
func FromAny(m map[string]any) domain.RawRecord {
	raw := make(domain.RawRecord, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			raw[k] = val
		case json.Number:
			raw[k] = val.String()
		case float64:
			raw[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			raw[k] = strconv.FormatBool(val)
		case nil:
			raw[k] = ""
		default:
			raw[k] = fmt.Sprint(val)
		}
	}
	return raw
}
