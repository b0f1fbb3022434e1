// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"kwdetect/internal/listener"
	applog "kwdetect/internal/log"
	"kwdetect/internal/transport"
)

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Monotonically increasing|
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| Keyword Index     | int32          | 4            | Detected keyword index  |
| Action Length     | uint16         | 2            | Length of action (N)    |
| Action            | []byte         | N            | Action token            |
+-----------------------------------------------------------------------------+
*/

// PacketHeaderSize is the size of the fixed part of a detection packet.
const PacketHeaderSize = 4 + 8 + 4 + 2

// EventPublisher packs detection events into datagrams and sends them with a
// UDPSender. It implements transport.Transport.
type EventPublisher struct {
	sender *UDPSender

	mu           sync.Mutex
	sequenceNum  uint32
	packetBuffer *bytes.Buffer // Reused between packets.
}

// NewEventPublisher creates a publisher around sender.
func NewEventPublisher(sender *UDPSender) (*EventPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("EventPublisher: UDP sender cannot be nil")
	}
	applog.Infof("EventPublisher: Sending detections to %s", sender.Target())
	return &EventPublisher{
		sender:       sender,
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Send packs a listener.DetectionEvent and transmits it. Other values are rejected.
func (p *EventPublisher) Send(data any) error {
	event, ok := data.(listener.DetectionEvent)
	if !ok {
		return fmt.Errorf("EventPublisher: unsupported payload %T", data)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.sequenceNum++
	p.packetBuffer.Reset()

	action := []byte(event.Action)
	err := binary.Write(p.packetBuffer, binary.BigEndian, p.sequenceNum)
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, event.Timestamp.UnixNano())
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, int32(event.KeywordIndex))
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, uint16(len(action)))
	}
	if err == nil {
		_, err = p.packetBuffer.Write(action)
	}
	if err != nil {
		return fmt.Errorf("EventPublisher: packing packet: %w", err)
	}

	if err := p.sender.Send(p.packetBuffer.Bytes()); err != nil {
		return err
	}
	applog.Debugf("EventPublisher: Sent packet %d (%d bytes)", p.sequenceNum, p.packetBuffer.Len())
	return nil
}

// Close closes the underlying sender.
func (p *EventPublisher) Close() error {
	return p.sender.Close()
}

var _ transport.Transport = (*EventPublisher)(nil)
