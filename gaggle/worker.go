package gaggle

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"fortio.org/log"
	"github.com/google/uuid"
)

// BatchInterval is how often a Worker reports a MetricsBatch to its manager.
const BatchInterval = 500 * time.Millisecond

// Worker is a gaggle client: it dials a manager, completes the handshake,
// then exchanges metrics batches and control commands until the connection
// drops or Close is called.
type Worker struct {
	ID       uuid.UUID
	conn     net.Conn
	sequence atomic.Uint32

	RunID       uuid.UUID
	Index       int
	TotalPeers  int
	ThrottleCut float64
	Config      AssignConfig

	// OnControl is called for every ControlCommand the manager forwards;
	// the returned string/error become the ControlReply sent back.
	OnControl func(ControlCommand) (string, error)
}

// Dial connects to a manager at addr, completes the hello handshake, and
// returns a ready Worker.
func Dial(addr, hostname string, slots int) (*Worker, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("gaggle: dial manager %s: %w", addr, err)
	}
	w := &Worker{ID: uuid.New(), conn: conn}
	hello := Hello{WorkerID: w.ID, Hostname: hostname, Workers: slots}
	if err := WriteJSON(conn, MsgHello, w.nextSeq(), hello); err != nil {
		conn.Close()
		return nil, err
	}
	ackFrame, err := ReadFrame(conn)
	if err != nil || ackFrame.Type != MsgHelloAck {
		conn.Close()
		return nil, fmt.Errorf("gaggle: manager handshake failed: %v", err)
	}
	var ack HelloAck
	if err := decodeJSON(ackFrame.Payload, &ack); err != nil {
		conn.Close()
		return nil, err
	}
	w.RunID, w.Index, w.TotalPeers, w.ThrottleCut = ack.RunID, ack.WorkerIndex, ack.TotalWorkers, ack.ThrottleShare

	cfgFrame, err := ReadFrame(conn)
	if err != nil || cfgFrame.Type != MsgAssignConfig {
		conn.Close()
		return nil, fmt.Errorf("gaggle: manager config assignment failed: %v", err)
	}
	if err := decodeJSON(cfgFrame.Payload, &w.Config); err != nil {
		conn.Close()
		return nil, err
	}
	log.Infof("gaggle: worker %d/%d joined run %s, throttle share %.3f", w.Index, w.TotalPeers, w.RunID, w.ThrottleCut)
	return w, nil
}

func (w *Worker) nextSeq() uint32 {
	return w.sequence.Add(1)
}

// SendBatch reports a MetricsBatch to the manager.
func (w *Worker) SendBatch(batch MetricsBatch) error {
	batch.WorkerIndex = w.Index
	return WriteJSON(w.conn, MsgMetricsBatch, w.nextSeq(), batch)
}

// ServeControl blocks, replying to every ControlCommand the manager sends
// and handling MsgPing, until the connection closes or stop is closed.
func (w *Worker) ServeControl(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			_ = WriteFrame(w.conn, MsgWorkerShutdown, w.nextSeq(), nil)
			return
		default:
		}
		frame, err := ReadFrame(w.conn)
		if err != nil {
			log.Infof("gaggle: worker %d lost connection to manager: %v", w.Index, err)
			return
		}
		switch frame.Type {
		case MsgControlCommand:
			var cmd ControlCommand
			if err := decodeJSON(frame.Payload, &cmd); err != nil {
				continue
			}
			reply := ControlReply{WorkerIndex: w.Index}
			if w.OnControl != nil {
				text, err := w.OnControl(cmd)
				reply.Reply = text
				if err != nil {
					reply.Err = err.Error()
				}
			}
			_ = WriteJSON(w.conn, MsgControlReply, frame.Sequence, reply)
		case MsgPing:
			_ = WriteFrame(w.conn, MsgPong, frame.Sequence, nil)
		}
	}
}

// Close closes the underlying connection.
func (w *Worker) Close() error {
	return w.conn.Close()
}
