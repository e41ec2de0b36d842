package orchestrator

import (
	"context"
	"errors"
	"net"
	"strings"
)

// networkErrorKeywords classifies transport failures from their error
// text. The list mirrors what curl-family clients produce.
var networkErrorKeywords = []string{
	"connection reset",
	"connection aborted",
	"connection refused",
	"connection closed",
	"connection error",
	"timed out",
	"timeout",
	"network is unreachable",
	"no such host",
	"broken pipe",
	"tls",
	"ssl",
	"eof",
	"fetch failed",
}

// IsNetworkError reports whether err looks like a transient transport
// failure worth retrying on another credential.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, keyword := range networkErrorKeywords {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}
