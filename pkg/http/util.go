package http

import (
	"time"

	xutil "SignalGate/pkg/util"
)

// ParseTimeDefault parses a query time (RFC3339 or unix s/ms) or returns def.
func ParseTimeDefault(s string, def time.Time) time.Time { return xutil.ParseTimeDefault(s, def) }
