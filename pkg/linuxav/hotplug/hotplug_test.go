//go:build linux

package hotplug

import (
	"testing"
)

func uevent(parts ...string) []byte {
	var data []byte
	for _, p := range parts {
		data = append(data, p...)
		data = append(data, 0)
	}
	return data
}

func TestParseUEvent(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected *Event
	}{
		{
			name: "media device add",
			data: uevent(
				"add@/devices/pci0000:00/0000:00:05.0/media0",
				"ACTION=add",
				"SUBSYSTEM=media",
				"DEVNAME=media0",
			),
			expected: &Event{
				Action:    "add",
				Subsystem: "media",
				DevName:   "media0",
				KObj:      "/devices/pci0000:00/0000:00:05.0/media0",
			},
		},
		{
			name: "video device remove",
			data: uevent(
				"remove@/devices/pci0000:00/video4linux/video0",
				"SUBSYSTEM=video4linux",
				"DEVNAME=video0",
			),
			expected: &Event{
				Action:    "remove",
				Subsystem: "video4linux",
				DevName:   "video0",
				KObj:      "/devices/pci0000:00/video4linux/video0",
			},
		},
		{
			name:     "empty message",
			data:     nil,
			expected: nil,
		},
		{
			name:     "missing action separator",
			data:     uevent("garbage-without-at-sign", "SUBSYSTEM=media"),
			expected: nil,
		},
		{
			name: "malformed key value pairs are skipped",
			data: uevent(
				"change@/devices/x",
				"NOEQUALS",
				"=nokey",
				"SUBSYSTEM=media",
			),
			expected: &Event{
				Action:    "change",
				Subsystem: "media",
				KObj:      "/devices/x",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseUEvent(tt.data)
			if tt.expected == nil {
				if got != nil {
					t.Fatalf("ParseUEvent() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("ParseUEvent() = nil, want event")
			}
			if *got != *tt.expected {
				t.Errorf("ParseUEvent() = %+v, want %+v", *got, *tt.expected)
			}
		})
	}
}

func TestEventDevNode(t *testing.T) {
	ev := &Event{DevName: "media0"}
	if got := ev.DevNode(); got != "/dev/media0" {
		t.Errorf("DevNode() = %q, want /dev/media0", got)
	}

	empty := &Event{}
	if got := empty.DevNode(); got != "" {
		t.Errorf("DevNode() without DevName = %q, want empty", got)
	}
}
