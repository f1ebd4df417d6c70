package bot

import (
	"fmt"
	"strconv"
	"strings"

	"cnsniper/internal/api"
	"cnsniper/internal/settings"
)

// ParseIntervalArg parses the argument of /interval in seconds.
func ParseIntervalArg(args string) (int, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return 0, fmt.Errorf("usage: /interval <seconds>")
	}
	sec, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", fields[0])
	}
	if sec < api.MinInterval {
		return 0, fmt.Errorf("interval must be at least %d seconds", api.MinInterval)
	}
	return sec, nil
}

// ParseNumberArg parses the argument of /toggle.
func ParseNumberArg(args string) (int, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return 0, fmt.Errorf("usage: /toggle <n>")
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < settings.MinNumber || n > settings.MaxNumber {
		return 0, fmt.Errorf("number must be between %d and %d", settings.MinNumber, settings.MaxNumber)
	}
	return n, nil
}
