// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"net"
	"testing"
	"time"

	"omx/internal/stats"
)

func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPublisherSendsSummaries(t *testing.T) {
	conn := listen(t)
	sender, err := NewSender(conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewSender() error = %v", err)
	}
	defer sender.Close()

	sums := []stats.Summary{
		{Port: 0, Direction: "input", Sent: 10, Returned: 9, Bytes: 10240, Held: 1, Samples: 9, Mean: 1500 * time.Microsecond, Max: 3 * time.Millisecond},
		{Port: 1, Direction: "output", Sent: 12, Returned: 12, Bytes: 9000, P95: 2 * time.Millisecond},
	}
	pub, err := NewPublisher(5*time.Millisecond, sender, func() []stats.Summary { return sums })
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	pub.Start()
	pub.Start()
	defer pub.Close()

	buf := make([]byte, 2048)
	var last uint32
	for i := 0; i < 2; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("ReadFromUDP() error = %v", err)
		}
		p, err := Decode(buf[:n])
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if p.Sequence <= last {
			t.Errorf("sequence %d after %d", p.Sequence, last)
		}
		last = p.Sequence
		if len(p.Ports) != 2 {
			t.Fatalf("got %d records, want 2", len(p.Ports))
		}
		in, out := p.Ports[0], p.Ports[1]
		if in.Direction != 0 || in.Sent != 10 || in.Returned != 9 || in.Bytes != 10240 || in.Held != 1 || in.Samples != 9 {
			t.Errorf("input record = %+v", in)
		}
		if in.Mean != 1500 || in.Max != 3000 {
			t.Errorf("input latencies mean=%v max=%v, want 1500 and 3000 microseconds", in.Mean, in.Max)
		}
		if out.Port != 1 || out.Direction != 1 || out.P95 != 2000 {
			t.Errorf("output record = %+v", out)
		}
		if time.Since(p.Time) > time.Minute {
			t.Errorf("packet time %v is not current", p.Time)
		}
	}

	if err := pub.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := pub.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestDecodeRejectsShortPackets(t *testing.T) {
	if _, err := Decode([]byte{0, 0, 0, 1}); err == nil {
		t.Error("Decode() of a truncated header should fail")
	}
	// Header claiming one record with no payload.
	packet := []byte{0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	if _, err := Decode(packet); err == nil {
		t.Error("Decode() of a missing record should fail")
	}
	if _, err := Decode(append(packet[:13:13], 0, 0)); err == nil {
		t.Error("Decode() with trailing bytes should fail")
	}
}

func TestNewPublisherRequiresInputs(t *testing.T) {
	if _, err := NewPublisher(time.Second, nil, func() []stats.Summary { return nil }); err == nil {
		t.Error("NewPublisher() without a sender should fail")
	}
	conn := listen(t)
	sender, err := NewSender(conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewSender() error = %v", err)
	}
	if _, err := NewPublisher(time.Second, sender, nil); err == nil {
		t.Error("NewPublisher() without a source should fail")
	}
	sender.Close()
	if err := sender.Send([]byte{1}); !errors.Is(err, ErrSenderClosed) {
		t.Errorf("Send() after Close = %v, want ErrSenderClosed", err)
	}
}
