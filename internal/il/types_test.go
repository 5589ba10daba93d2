// SPDX-License-Identifier: MIT
package il

import (
	"errors"
	"strings"
	"testing"
)

func TestRoleParam(t *testing.T) {
	p := RoleParam("video_decoder.avc")
	if len(p) != 8+RoleLength {
		t.Fatalf("RoleParam size = %d, want %d", len(p), 8+RoleLength)
	}
	if p[0] != byte(8+RoleLength) {
		t.Errorf("nSize low byte = %d", p[0])
	}
	if got := RoleFromParam(p); got != "video_decoder.avc" {
		t.Errorf("RoleFromParam() = %q", got)
	}

	long := strings.Repeat("x", 300)
	if got := RoleFromParam(RoleParam(long)); len(got) != RoleLength-1 {
		t.Errorf("long role not truncated with terminator: len %d", len(got))
	}
}

func TestBufferHeaderPayload(t *testing.T) {
	tests := []struct {
		name   string
		offset uint32
		filled uint32
		want   string
	}{
		{"Whole", 0, 5, "hello"},
		{"Offset", 1, 3, "ell"},
		{"Empty", 2, 0, ""},
		{"Clamped", 3, 10, "lo"},
		{"Beyond", 9, 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &BufferHeader{Buffer: []byte("hello"), Offset: tt.offset, FilledLen: tt.filled}
			if got := string(h.Payload()); got != tt.want {
				t.Errorf("Payload() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	if Err(0) != nil {
		t.Error("Err(0) should be nil")
	}
	err := Err(uint32(ErrorHardware))
	var code ErrorCode
	if !errors.As(err, &code) || code != ErrorHardware {
		t.Fatalf("Err(Hardware) = %v", err)
	}
	if !strings.Contains(err.Error(), "Hardware") || !strings.Contains(err.Error(), "0x80001009") {
		t.Errorf("unexpected message %q", err.Error())
	}
	if msg := ErrorCode(0x80009999).Error(); !strings.Contains(msg, "0x80009999") {
		t.Errorf("unknown code message %q", msg)
	}
}

func TestStateString(t *testing.T) {
	if StateExecuting.String() != "Executing" {
		t.Errorf("StateExecuting.String() = %q", StateExecuting.String())
	}
	if State(42).String() != "State(42)" {
		t.Errorf("State(42).String() = %q", State(42).String())
	}
}
