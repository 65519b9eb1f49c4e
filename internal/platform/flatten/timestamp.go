package flatten

import (
	"strings"
	"time"

	"github.com/flourish/export/internal/platform/source"
)

const (
	dateLayout = "01/02/2006"
	timeLayout = "15:04:05.000000"
)

// FixDateFormat normalizes every temporal value in the row and returns a new
// row; the input is never mutated. Datetimes are converted to loc and split:
// the date goes under the input key with the substring "time" removed (a
// literal, case-sensitive rule kept for output compatibility), the time of
// day under the key with "datetime" replaced by "time", or suffixed "_time"
// when the key contains no "datetime". Date-only values format in place.
// Rows already in the output shape pass through unchanged, so the function is
// idempotent.
func FixDateFormat(row Row, loc *time.Location) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	for key, value := range row {
		switch v := value.(type) {
		case time.Time:
			local := v.In(loc)
			timeKey := key + "_time"
			if strings.Contains(key, "datetime") {
				timeKey = strings.ReplaceAll(key, "datetime", "time")
			}
			delete(out, key)
			out[strings.ReplaceAll(key, "time", "")] = local.Format(dateLayout)
			out[timeKey] = local.Format(timeLayout)
		case *time.Time:
			if v == nil {
				continue
			}
			tmp := FixDateFormat(Row{key: *v}, loc)
			delete(out, key)
			for k, nv := range tmp {
				out[k] = nv
			}
		case source.Date:
			if v.IsZero() {
				out[key] = nil
				continue
			}
			out[key] = v.Format(dateLayout)
		}
	}
	return out
}
