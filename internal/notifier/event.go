package notifier

import (
	"fmt"
	"strings"
)

// EventType is a condition a driver can signal.
type EventType int

const (
	IOBAvail EventType = iota
	NetDown
	TCPReadAhead
	TCPWriteBuffer
	UDPReadAhead
	UDPWriteBuffer
	TCPDisconnect
	USRSockData

	numEvents
)

var eventNames = [numEvents]string{
	IOBAvail:       "iob.avail",
	NetDown:        "net.down",
	TCPReadAhead:   "tcp.readahead",
	TCPWriteBuffer: "tcp.writebuffer",
	UDPReadAhead:   "udp.readahead",
	UDPWriteBuffer: "udp.writebuffer",
	TCPDisconnect:  "tcp.disconnect",
	USRSockData:    "usrsock.data",
}

// String returns the bus event type name, e.g. "net.down".
func (e EventType) String() string {
	if e >= 0 && e < numEvents {
		return eventNames[e]
	}
	return fmt.Sprintf("EventType(%d)", int(e))
}

func ParseEventType(s string) (EventType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range eventNames {
		if name == s {
			return EventType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// EventNames lists every bus event type name.
func EventNames() []string { return append([]string(nil), eventNames[:]...) }
