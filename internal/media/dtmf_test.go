package media

import "testing"

func dtmfPayload(code byte, end bool, duration uint16) []byte {
	var b1 byte = 10 // volume
	if end {
		b1 |= 0x80
	}
	return []byte{code, b1, byte(duration >> 8), byte(duration)}
}

func TestParseDTMF(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    DTMFEvent
		wantErr bool
	}{
		{"digit 5 end", dtmfPayload(5, true, 800), DTMFEvent{Digit: '5', End: true, Volume: 10, Duration: 800}, false},
		{"star ongoing", dtmfPayload(10, false, 160), DTMFEvent{Digit: '*', End: false, Volume: 10, Duration: 160}, false},
		{"pound", dtmfPayload(11, true, 320), DTMFEvent{Digit: '#', End: true, Volume: 10, Duration: 320}, false},
		{"letter D", dtmfPayload(15, true, 320), DTMFEvent{Digit: 'D', End: true, Volume: 10, Duration: 320}, false},
		{"too short", []byte{1, 2}, DTMFEvent{}, true},
		{"code out of range", dtmfPayload(16, true, 320), DTMFEvent{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDTMF(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDTMF() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("parseDTMF() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDTMFDedup(t *testing.T) {
	var d dtmfDedup

	// A key press arrives as several ongoing events then repeated end events.
	press := func(code byte) []rune {
		var out []rune
		events := []DTMFEvent{}
		for i := 0; i < 3; i++ {
			ev, _ := parseDTMF(dtmfPayload(code, false, uint16(160*(i+1))))
			events = append(events, ev)
		}
		for i := 0; i < 3; i++ {
			ev, _ := parseDTMF(dtmfPayload(code, true, 800))
			events = append(events, ev)
		}
		for _, ev := range events {
			if r := d.observe(ev); r != 0 {
				out = append(out, r)
			}
		}
		return out
	}

	if got := press(5); len(got) != 1 || got[0] != '5' {
		t.Errorf("press 5 reported %q, want exactly one '5'", string(got))
	}
	if got := press(7); len(got) != 1 || got[0] != '7' {
		t.Errorf("press 7 reported %q, want exactly one '7'", string(got))
	}
	// Pressing the same digit twice reports it twice.
	if got := press(7); len(got) != 1 || got[0] != '7' {
		t.Errorf("second press 7 reported %q, want exactly one '7'", string(got))
	}
}
