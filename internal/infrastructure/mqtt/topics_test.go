package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"SensorBlock", topics.SensorBlock("0123ab", 0, 8, 1699999872), "/sensor/0123ab/tmpo/0/8/1699999872/gz"},
		{"SensorBlockCoarse", topics.SensorBlock("45cd", 3, 12, 1700003840), "/sensor/45cd/tmpo/3/12/1700003840/gz"},
		{"DeviceSync", topics.DeviceSync("00112233445566778899aabbccddeeff"), "/d/device/00112233445566778899aabbccddeeff/tmpo/sync"},
		{"DeviceUplinks", topics.DeviceUplinks(), "tmpo/devices/+/up"},
		{"BrokerUptime", topics.BrokerUptime(), "$SYS/broker/uptime"},
		{"SystemStatus", topics.SystemStatus(), "tmpod/system/status"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}
