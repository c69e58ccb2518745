package wire

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

var lastCorrelationID atomic.Uint64

// NewCorrelationID returns the upper 64 bits of a version 1 UUID. Values are
// strictly increasing within the process so two calls in the same clock tick
// never collide.
func NewCorrelationID() uint64 {
	next := timeBasedID()
	for {
		last := lastCorrelationID.Load()
		if next <= last {
			next = last + 1
		}
		if lastCorrelationID.CompareAndSwap(last, next) {
			return next
		}
	}
}

func timeBasedID() uint64 {
	id, err := uuid.NewUUID()
	if err != nil {
		id = uuid.New()
	}
	return binary.BigEndian.Uint64(id[:8])
}

// NewSubscriptionID returns "<hostname>/<HEX>", unique within the process.
func NewSubscriptionID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s/%X", host, NewCorrelationID())
}

// FormatCorrelationID renders an id the way it travels on the wire.
func FormatCorrelationID(id uint64) string {
	return strings.ToUpper(strconv.FormatUint(id, 16))
}

// ParseCorrelationID accepts the hexadecimal wire form.
func ParseCorrelationID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, Validationf("invalid correlation id %q", s)
	}
	return id, nil
}
