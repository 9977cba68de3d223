// Package ipc implements the router/worker control channel: a pair of pipes
// inherited by the child process, carrying one JSON message per line. The
// child sends a single "ready" message once its HTTP listener is bound; the
// parent may send a single "shutdown" message to request a graceful exit.
package ipc

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// MessageType identifies a control message.
type MessageType string

const (
	// MessageReady is sent child to parent, exactly once, carrying the bound port.
	MessageReady MessageType = "ready"
	// MessageShutdown is sent parent to child to request a graceful exit.
	MessageShutdown MessageType = "shutdown"
)

// Message is a single control-channel frame.
type Message struct {
	Type       MessageType `json:"type"`
	Port       int         `json:"port,omitempty"`
	InstanceID string      `json:"instance_id,omitempty"`
}

// Child-side file descriptor numbers. The parent wires these through
// exec.Cmd.ExtraFiles, which maps entry 0 to fd 3, entry 1 to fd 4.
const (
	childReadFD  = 3
	childWriteFD = 4
)

// Channel is one endpoint of the control channel.
type Channel struct {
	r   io.ReadCloser
	w   io.WriteCloser
	enc *json.Encoder
	dec *json.Decoder
}

// NewChannel builds a channel over an arbitrary read/write pair.
func NewChannel(r io.ReadCloser, w io.WriteCloser) *Channel {
	return &Channel{
		r:   r,
		w:   w,
		enc: json.NewEncoder(w),
		dec: json.NewDecoder(r),
	}
}

// Send writes one message to the peer.
func (c *Channel) Send(msg Message) error {
	if err := c.enc.Encode(msg); err != nil {
		return fmt.Errorf("send control message: %w", err)
	}
	return nil
}

// Receive blocks until the peer sends a message or closes its end.
func (c *Channel) Receive() (Message, error) {
	var msg Message
	if err := c.dec.Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("receive control message: %w", err)
	}
	return msg, nil
}

// Close closes both ends of the channel.
func (c *Channel) Close() error {
	rErr := c.r.Close()
	wErr := c.w.Close()
	if rErr != nil {
		return rErr
	}
	return wErr
}

// ParentEnd is the router's side of the channel plus the file descriptors to
// hand to the child via ExtraFiles. The child files must be closed in the
// parent after the process starts so pipe EOFs propagate on child exit.
type ParentEnd struct {
	*Channel
	childRead  *os.File
	childWrite *os.File
}

// NewParentEnd creates the pipe pair for a new child process.
func NewParentEnd() (*ParentEnd, error) {
	// Parent to child: child reads shutdown requests.
	childR, parentW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create control pipe: %w", err)
	}
	// Child to parent: child reports readiness.
	parentR, childW, err := os.Pipe()
	if err != nil {
		childR.Close()
		parentW.Close()
		return nil, fmt.Errorf("create control pipe: %w", err)
	}

	return &ParentEnd{
		Channel:    NewChannel(parentR, parentW),
		childRead:  childR,
		childWrite: childW,
	}, nil
}

// ChildFiles returns the descriptors to assign to exec.Cmd.ExtraFiles, in
// order: the child's read end (fd 3), then its write end (fd 4).
func (p *ParentEnd) ChildFiles() []*os.File {
	return []*os.File{p.childRead, p.childWrite}
}

// CloseChildFiles releases the parent's copies of the child descriptors.
// Call after the child process has started.
func (p *ParentEnd) CloseChildFiles() {
	p.childRead.Close()
	p.childWrite.Close()
}

// ChildChannel opens the control channel from inside a worker process using
// the inherited descriptors.
func ChildChannel() *Channel {
	r := os.NewFile(uintptr(childReadFD), "control-read")
	w := os.NewFile(uintptr(childWriteFD), "control-write")
	return NewChannel(r, w)
}
