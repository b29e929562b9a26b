package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
)

var weekdays = map[string]string{
	"0": "Sunday",
	"1": "Monday",
	"2": "Tuesday",
	"3": "Wednesday",
	"4": "Thursday",
	"5": "Friday",
	"6": "Saturday",
}

// Describe returns a best-effort human-readable summary of expr, e.g.
// "Every day at 09:00". It never fails: unrecognized patterns fall back
// to echoing the raw expression.
func Describe(expr string) string {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return expr
	}

	minute, hour, dom, month, dow := parts[0], parts[1], parts[2], parts[3], parts[4]

	switch {
	case minute == "*" && hour == "*" && dom == "*" && month == "*" && dow == "*":
		return "Every minute"

	case strings.HasPrefix(minute, "*/") && hour == "*" && dom == "*" && month == "*" && dow == "*":
		if n, err := strconv.Atoi(minute[2:]); err == nil {
			if n == 1 {
				return "Every minute"
			}
			return fmt.Sprintf("Every %d minutes", n)
		}

	case isNumber(minute) && strings.HasPrefix(hour, "*/") && dom == "*" && month == "*" && dow == "*":
		if n, err := strconv.Atoi(hour[2:]); err == nil {
			return fmt.Sprintf("Every %d hours at minute %s", n, pad(minute))
		}

	case isNumber(minute) && hour == "*" && dom == "*" && month == "*" && dow == "*":
		return fmt.Sprintf("Every hour at minute %s", pad(minute))

	case isNumber(minute) && isNumber(hour) && dom == "*" && month == "*" && dow == "*":
		return fmt.Sprintf("Every day at %s:%s", pad(hour), pad(minute))

	case isNumber(minute) && isNumber(hour) && dom == "*" && month == "*":
		if day, ok := weekdays[dow]; ok {
			return fmt.Sprintf("Every %s at %s:%s", day, pad(hour), pad(minute))
		}

	case isNumber(minute) && isNumber(hour) && isNumber(dom) && month == "*" && dow == "*":
		return fmt.Sprintf("On day %s of every month at %s:%s", dom, pad(hour), pad(minute))
	}

	return expr
}

func isNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func pad(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
