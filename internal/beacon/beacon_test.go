package beacon

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Beacon{
		{Flag: Worker, ID: "abcd", Port: 5555},
		{Flag: Storage, ID: "ab", Port: 80},
		{Flag: Worker, ID: "toolong", Port: 6000},
	}

	for _, b := range cases {
		frame, err := Encode(b)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", b, err)
		}
		if len(frame) != BeaconSize {
			t.Fatalf("Encode(%+v) produced %d bytes, want %d", b, len(frame), BeaconSize)
		}

		got, err := Decode(frame)
		if err != nil {
			t.Fatalf("Decode(%q): %v", frame, err)
		}
		if got.Flag != b.Flag || got.Port != b.Port {
			t.Fatalf("round trip mismatch: got %+v from %+v", got, b)
		}
	}
}

func TestDecodeKnownFrame(t *testing.T) {
	frame := "w abcd 5555 " // 12 bytes: port field is space-padded to width 5
	got, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Beacon{Flag: Worker, ID: "abcd", Port: 5555}
	if got != want {
		t.Fatalf("Decode(%q) = %+v, want %+v", frame, got, want)
	}
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	if _, err := Decode([]byte("too short")); err == nil {
		t.Fatal("expected error for short frame")
	}
	if _, err := Decode([]byte("way too long to be a beacon")); err == nil {
		t.Fatal("expected error for long frame")
	}
}

func TestDecodeRejectsUnknownFlag(t *testing.T) {
	frame, err := Encode(Beacon{Flag: Worker, ID: "abcd", Port: 1})
	if err != nil {
		t.Fatal(err)
	}
	frame[0] = 'x'
	if _, err := Decode(frame); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestEncodeRejectsBadPort(t *testing.T) {
	if _, err := Encode(Beacon{Flag: Worker, ID: "abcd", Port: 0}); err == nil {
		t.Fatal("expected error for zero port")
	}
	if _, err := Encode(Beacon{Flag: Worker, ID: "abcd", Port: 99999}); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}
