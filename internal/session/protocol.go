// Package session serves the text control protocol. Each inbound message is
// one command; replies and telemetry go back as text frames on the same
// connection.
package session

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// MaxInterval is the longest scan period, in seconds, that fits a
// time.Duration.
const MaxInterval = math.MaxInt64 / int64(time.Second)

// ErrProtocol is matched by every *ProtocolError.
var ErrProtocol = errors.New("protocol error")

// ProtocolError is a malformed or unknown command. Message is shown to the
// client as a toast.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Message
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}

// Kind identifies a command.
type Kind int

const (
	StartScan Kind = iota + 1
	StopScan
	GetLastScan
	Overwrite
	GetMetaAndTree
	GetList
)

const (
	prefixStartScan   = "START_SCAN:"
	prefixOverwrite   = "OVERWRITE:"
	prefixMetaAndTree = "GET_META-INF_AND_TREE:"

	cmdStopScan    = "STOP_SCAN"
	cmdGetLastScan = "GET_LAST_SCAN"
	cmdGetList     = "GET LIST"
)

// Reply prefixes and fixed replies.
const (
	ReplyScanStarted      = "SCAN_STARTED"
	ReplyScanStopped      = "SCAN_STOPPED"
	ReplyOverwriteSuccess = "OVERWRITE_SUCCESS"

	PrefixToast       = "TOAST:"
	PrefixLastScan    = "LAST_SCAN:"
	PrefixMetaAndTree = "META-INF_AND_TREE:"
	PrefixStringList  = "STRING_LIST:"
	PrefixMemory      = "MEMORY:"
)

// Command is a decoded inbound message.
type Command struct {
	Kind Kind
	// Interval is the scan period in seconds for StartScan.
	Interval int64
	// ID is the scan id for Overwrite and GetMetaAndTree.
	ID uint64
}

// Decode parses one inbound message.
func Decode(msg string) (Command, error) {
	msg = strings.TrimSpace(msg)

	switch {
	case strings.HasPrefix(msg, prefixStartScan):
		n, err := strconv.ParseInt(strings.TrimPrefix(msg, prefixStartScan), 10, 64)
		if err != nil || n <= 0 || n > MaxInterval {
			return Command{}, &ProtocolError{Message: "Invalid interval"}
		}
		return Command{Kind: StartScan, Interval: n}, nil
	case msg == cmdStopScan:
		return Command{Kind: StopScan}, nil
	case msg == cmdGetLastScan:
		return Command{Kind: GetLastScan}, nil
	case strings.HasPrefix(msg, prefixOverwrite):
		id, err := strconv.ParseUint(strings.TrimPrefix(msg, prefixOverwrite), 10, 64)
		if err != nil {
			return Command{}, &ProtocolError{Message: "Invalid id"}
		}
		return Command{Kind: Overwrite, ID: id}, nil
	case strings.HasPrefix(msg, prefixMetaAndTree):
		id, err := strconv.ParseUint(strings.TrimPrefix(msg, prefixMetaAndTree), 10, 64)
		if err != nil {
			return Command{}, &ProtocolError{Message: "Invalid scan ID"}
		}
		return Command{Kind: GetMetaAndTree, ID: id}, nil
	case msg == cmdGetList:
		return Command{Kind: GetList}, nil
	default:
		return Command{}, &ProtocolError{Message: "Unknown command"}
	}
}

// String encodes c as an inbound message.
func (c Command) String() string {
	switch c.Kind {
	case StartScan:
		return prefixStartScan + strconv.FormatInt(c.Interval, 10)
	case StopScan:
		return cmdStopScan
	case GetLastScan:
		return cmdGetLastScan
	case Overwrite:
		return prefixOverwrite + strconv.FormatUint(c.ID, 10)
	case GetMetaAndTree:
		return prefixMetaAndTree + strconv.FormatUint(c.ID, 10)
	case GetList:
		return cmdGetList
	default:
		return ""
	}
}

// Toast formats a toast reply.
func Toast(msg string) string {
	return PrefixToast + msg
}
