package miniaudio

import "testing"

func TestMatchDevice(t *testing.T) {
	t.Parallel()

	names := []string{"Built-in Microphone", "USB Audio Device", "usb"}
	tests := []struct {
		want string
		idx  int
	}{
		{"usb", 2},
		{"USB Audio Device", 1},
		{"audio", 1},
		{"MICRO", 0},
		{"headset", -1},
	}
	for _, tt := range tests {
		if got := matchDevice(names, tt.want); got != tt.idx {
			t.Errorf("matchDevice(%q) = %d, want %d", tt.want, got, tt.idx)
		}
	}
}
