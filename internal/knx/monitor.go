package knx

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/snapdog/snapdog/internal/dpt"
)

// CompileFilter converts a user-supplied group-address wildcard pattern
// ("a/b/c" or "a/b/*") into a regexp matching telegram destinations.
func CompileFilter(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `.*`)
	return regexp.Compile("^" + escaped + "$")
}

// RenderTelegram formats a GroupEvent as the monitor's single-line output:
// "[ts] {Read|Write|Response} src -> dst = formatted (Raw: hex) DPT description".
func RenderTelegram(ev GroupEvent, description string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s -> %s",
		ev.At.Format("15:04:05.000"), ev.APCI, ev.Source, ev.Destination)

	if ev.HasValue() {
		if ev.Value != nil {
			fmt.Fprintf(&b, " = %s (Raw: %s)", dpt.Format(*ev.Value), hex.EncodeToString(ev.Raw))
			if ev.Value.Dpt != nil {
				fmt.Fprintf(&b, " %s", ev.Value.Dpt)
			}
		} else {
			fmt.Fprintf(&b, " = (Raw: %s)", hex.EncodeToString(ev.Raw))
		}
	}
	if description != "" {
		fmt.Fprintf(&b, " %s", description)
	}
	return b.String()
}

// Matches reports whether filter accepts the event's destination address.
// A nil filter accepts everything.
func Matches(filter *regexp.Regexp, ev GroupEvent) bool {
	if filter == nil {
		return true
	}
	return filter.MatchString(ev.Destination.String())
}
