// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"omx/internal/il"
	applog "omx/internal/log"
	"omx/internal/stats"
)

// SummaryFunc returns the current port summaries.
type SummaryFunc func() []stats.Summary

/*
UDP Packet Structure (BigEndian)

+------------------------------------------------------------------------+
| Field           | Data Type | Size (Bytes) | Description               |
|-----------------|-----------|--------------|---------------------------|
| Sequence Number | uint32    | 4            | Monotonically increasing  |
| Timestamp       | int64     | 8            | Nanoseconds since epoch   |
| Port Count      | uint16    | 2            | Number of records (N)     |
| Records         | []Record  | N * 51       | One per port, see Record  |
+------------------------------------------------------------------------+
*/

type header struct {
	Sequence  uint32
	Timestamp int64
	Count     uint16
}

// Record is the fixed-size wire form of one stats.Summary. Latencies are in
// microseconds.
type Record struct {
	Port      uint32
	Direction uint8 // 0 input, 1 output
	Held      uint16
	Samples   uint32
	Sent      uint64
	Returned  uint64
	Bytes     uint64
	Mean      float32
	P50       float32
	P95       float32
	Max       float32
}

func micros(d time.Duration) float32 {
	return float32(float64(d) / float64(time.Microsecond))
}

func newRecord(s stats.Summary) Record {
	r := Record{
		Port:     s.Port,
		Held:     uint16(min(s.Held, math.MaxUint16)),
		Samples:  uint32(s.Samples),
		Sent:     s.Sent,
		Returned: s.Returned,
		Bytes:    s.Bytes,
		Mean:     micros(s.Mean),
		P50:      micros(s.P50),
		P95:      micros(s.P95),
		Max:      micros(s.Max),
	}
	if s.Direction == il.DirOutput.String() {
		r.Direction = 1
	}
	return r
}

// Packet is a decoded publisher packet.
type Packet struct {
	Sequence uint32
	Time     time.Time
	Ports    []Record
}

// Decode parses a packet built by a Publisher.
func Decode(data []byte) (Packet, error) {
	r := bytes.NewReader(data)
	var h header
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return Packet{}, fmt.Errorf("packet header: %w", err)
	}
	p := Packet{
		Sequence: h.Sequence,
		Time:     time.Unix(0, h.Timestamp),
		Ports:    make([]Record, h.Count),
	}
	if err := binary.Read(r, binary.BigEndian, p.Ports); err != nil {
		return Packet{}, fmt.Errorf("packet records: %w", err)
	}
	if r.Len() != 0 {
		return Packet{}, fmt.Errorf("packet has %d trailing bytes", r.Len())
	}
	return p, nil
}

// Publisher periodically fetches port summaries, packs them into the
// binary format above and sends them with a Sender. It runs in a separate
// goroutine managed by Start and Stop.
type Publisher struct {
	sender   *Sender
	source   SummaryFunc
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // protects ticker and doneChan during Start/Stop

	sequenceNum  uint32
	records      []Record
	packetBuffer *bytes.Buffer
}

// NewPublisher creates a Publisher. An interval <= 0 defaults to one
// second.
func NewPublisher(interval time.Duration, sender *Sender, source SummaryFunc) (*Publisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("UDPPublisher: summary source cannot be nil")
	}
	if interval <= 0 {
		interval = time.Second
		applog.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}
	return &Publisher{
		sender:       sender,
		source:       source,
		interval:     interval,
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Start begins publishing. Calling it while running is a no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("UDPPublisher: Start called but already running.")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}
	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Debugf("UDPPublisher: Publisher goroutine started (Interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.publish()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine to terminate and waits for it. It
// is safe to call Stop more than once.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	applog.Debugf("UDPPublisher: Publisher goroutine finished after %d packets.", p.sequenceNum)
	return nil
}

func (p *Publisher) publish() {
	sums := p.source()
	if len(sums) > math.MaxUint16 {
		sums = sums[:math.MaxUint16]
	}
	p.records = p.records[:0]
	for _, s := range sums {
		p.records = append(p.records, newRecord(s))
	}

	p.sequenceNum++
	h := header{
		Sequence:  p.sequenceNum,
		Timestamp: time.Now().UnixNano(),
		Count:     uint16(len(p.records)),
	}

	p.packetBuffer.Reset()
	err := binary.Write(p.packetBuffer, binary.BigEndian, h)
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, p.records)
	}
	if err != nil {
		applog.Errorf("UDPPublisher: Error packing data into binary buffer: %v", err)
		return
	}

	packet := p.packetBuffer.Bytes()
	if err := p.sender.Send(packet); err == nil {
		applog.Debugf("UDPPublisher: Sent packet %d (%d bytes)", p.sequenceNum, len(packet))
	}
}

// Close stops the publisher. The Sender stays open.
func (p *Publisher) Close() error {
	return p.Stop()
}
