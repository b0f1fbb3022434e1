// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"kwdetect/internal/listener"
)

func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readPacket(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	buf := make([]byte, 1500)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	return buf[:n]
}

func TestEventPublisherPacketLayout(t *testing.T) {
	server := listen(t)

	sender, err := NewUDPSender(server.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewUDPSender: %v", err)
	}
	if got := sender.Target().String(); got != server.LocalAddr().String() {
		t.Errorf("target = %s, want %s", got, server.LocalAddr())
	}
	pub, err := NewEventPublisher(sender)
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}
	defer pub.Close()

	ts := time.Unix(1700000000, 42)
	for i, idx := range []int{2, 0} {
		event := listener.DetectionEvent{KeywordIndex: idx, Action: "e_record", Timestamp: ts}
		if err := pub.Send(event); err != nil {
			t.Fatalf("Send: %v", err)
		}

		packet := readPacket(t, server)
		if len(packet) != PacketHeaderSize+len("e_record") {
			t.Fatalf("packet length = %d", len(packet))
		}
		if seq := binary.BigEndian.Uint32(packet[0:4]); seq != uint32(i+1) {
			t.Errorf("sequence = %d, want %d", seq, i+1)
		}
		if got := int64(binary.BigEndian.Uint64(packet[4:12])); got != ts.UnixNano() {
			t.Errorf("timestamp = %d, want %d", got, ts.UnixNano())
		}
		if got := int32(binary.BigEndian.Uint32(packet[12:16])); got != int32(idx) {
			t.Errorf("keyword index = %d, want %d", got, idx)
		}
		n := binary.BigEndian.Uint16(packet[16:18])
		if packets, _ := sender.Stats(); packets != uint64(i+1) {
			t.Errorf("sender packets = %d, want %d", packets, i+1)
		}
		if action := string(packet[18 : 18+int(n)]); action != "e_record" {
			t.Errorf("action = %q", action)
		}
	}
}

func TestEventPublisherRejectsOtherPayloads(t *testing.T) {
	server := listen(t)
	sender, err := NewUDPSender(server.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewUDPSender: %v", err)
	}
	pub, _ := NewEventPublisher(sender)
	defer pub.Close()

	if err := pub.Send("not an event"); err == nil {
		t.Fatal("expected error for unsupported payload")
	}
}

func TestNewEventPublisherNilSender(t *testing.T) {
	if _, err := NewEventPublisher(nil); err == nil {
		t.Fatal("expected error for nil sender")
	}
}

func TestUDPSenderClosed(t *testing.T) {
	server := listen(t)
	sender, err := NewUDPSender(server.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewUDPSender: %v", err)
	}
	if err := sender.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sender.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := sender.Send([]byte{1}); !errors.Is(err, ErrSenderClosed) {
		t.Fatalf("Send after Close = %v, want ErrSenderClosed", err)
	}
}

func TestNewUDPSenderBadAddress(t *testing.T) {
	if _, err := NewUDPSender("not-an-address"); err == nil {
		t.Fatal("expected resolve error")
	}
}
