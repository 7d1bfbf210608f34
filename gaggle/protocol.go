// Package gaggle is the C9 distributed manager/worker protocol ("gaggle" is
// Goose's own term for a fleet of coordinated load generator processes). A
// manager binds a TCP listener workers dial into; each message is framed
// with a small fixed binary header (grounded on fnet.Listen's "bind, log,
// return listener" shape and jrpc's typed reply pattern, generalized from
// JSON-over-HTTP to length-prefixed binary frames since gaggle traffic is
// high-frequency metrics batches, not occasional RPCs).
package gaggle // import "github.com/fortio-goat/goatling/gaggle"

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// DefaultManagerPort is the manager's default bind port.
const DefaultManagerPort = "5115"

// ProtocolVersion is bumped whenever the frame header or message schema
// changes incompatibly.
const ProtocolVersion = 1

// headerSize is version(1) + msgType(1) + sequence(4) + length(4), all
// little-endian.
const headerSize = 1 + 1 + 4 + 4

// MessageType identifies a frame's payload shape.
type MessageType byte

const (
	MsgHello MessageType = iota + 1
	MsgHelloAck
	MsgAssignConfig
	MsgMetricsBatch
	MsgControlCommand
	MsgControlReply
	MsgWorkerShutdown
	MsgPing
	MsgPong
)

func (t MessageType) String() string {
	switch t {
	case MsgHello:
		return "hello"
	case MsgHelloAck:
		return "hello-ack"
	case MsgAssignConfig:
		return "assign-config"
	case MsgMetricsBatch:
		return "metrics-batch"
	case MsgControlCommand:
		return "control-command"
	case MsgControlReply:
		return "control-reply"
	case MsgWorkerShutdown:
		return "worker-shutdown"
	case MsgPing:
		return "ping"
	case MsgPong:
		return "pong"
	default:
		return "unknown"
	}
}

// Frame is one decoded wire message.
type Frame struct {
	Version  byte
	Type     MessageType
	Sequence uint32
	Payload  []byte
}

// WriteFrame writes version/msgType/sequence/length header then payload.
func WriteFrame(w io.Writer, msgType MessageType, sequence uint32, payload []byte) error {
	header := make([]byte, headerSize)
	header[0] = ProtocolVersion
	header[1] = byte(msgType)
	binary.LittleEndian.PutUint32(header[2:6], sequence)
	binary.LittleEndian.PutUint32(header[6:10], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("gaggle: write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("gaggle: write frame payload: %w", err)
		}
	}
	return nil
}

// maxPayloadBytes bounds a single frame's payload, guarding against a
// corrupt length field asking for an enormous allocation.
const maxPayloadBytes = 64 << 20 // 64MiB, well above a worst-case metrics batch

// ReadFrame reads one frame from r, blocking until the full header and
// payload arrive.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	f := &Frame{
		Version:  header[0],
		Type:     MessageType(header[1]),
		Sequence: binary.LittleEndian.Uint32(header[2:6]),
	}
	if f.Version != ProtocolVersion {
		return nil, fmt.Errorf("gaggle: unsupported protocol version %d", f.Version)
	}
	length := binary.LittleEndian.Uint32(header[6:10])
	if length > maxPayloadBytes {
		return nil, fmt.Errorf("gaggle: frame payload %d exceeds max %d", length, maxPayloadBytes)
	}
	if length > 0 {
		f.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, fmt.Errorf("gaggle: read frame payload: %w", err)
		}
	}
	return f, nil
}

// WriteJSON marshals v and writes it as a framed message.
func WriteJSON(w io.Writer, msgType MessageType, sequence uint32, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gaggle: marshal %s payload: %w", msgType, err)
	}
	return WriteFrame(w, msgType, sequence, payload)
}

// Hello is the worker's opening handshake message.
type Hello struct {
	WorkerID uuid.UUID
	Hostname string
	Workers  int // number of local goroutine slots this worker offers
}

// HelloAck is the manager's handshake reply, assigning the worker its share
// of the run and the run-wide RunID used to correlate logs across the fleet.
type HelloAck struct {
	RunID         uuid.UUID
	WorkerIndex   int
	TotalWorkers  int
	ThrottleShare float64 // this worker's fraction of the manager's global throttle
}

// AssignConfig carries the scenario/test-plan configuration a worker needs
// to start running users; scenario Go code itself isn't shipped over the
// wire (workers run the same binary/build as the manager), only parameters.
type AssignConfig struct {
	Host     string
	TestPlan string
	COMode   int
}

// RequestCount is one (method,name) bucket's rollup inside a MetricsBatch,
// carrying just enough to merge into a manager-side summary: counts and a
// response-time sum (not a full histogram, so a fleet of workers doesn't
// ship percentile buckets over the wire every 500ms).
type RequestCount struct {
	Method  string
	Name    string
	Success int64
	Fail    int64
	SumMsec float64
}

// TransactionCount is one (scenario,transaction) bucket's rollup.
type TransactionCount struct {
	ScenarioIndex    int
	TransactionIndex int
	Success          int64
	Fail             int64
}

// MetricsBatch is a worker's periodic rollup sent to the manager (every
// 500ms by default), carrying pre-aggregated counts rather than raw
// per-request records, to keep manager-bound bandwidth bounded regardless
// of fleet size. Shape mirrors spec 4.7's
// MetricsBatch{requests, transactions, errors, user_count}.
type MetricsBatch struct {
	WorkerIndex  int
	ActiveUsers  int64
	Requests     map[string]RequestCount
	Transactions map[string]TransactionCount
	Errors       map[string]int64
	Dropped      int64
}

// ControlCommand forwards a controller command (see the control package)
// from the manager to every worker, e.g. a runtime host change.
type ControlCommand struct {
	Name string
	Args string
}

// ControlReply is a worker's reply to a ControlCommand.
type ControlReply struct {
	WorkerIndex int
	Reply       string
	Err         string
}
