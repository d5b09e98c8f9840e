package utils

import (
	"fmt"

	"github.com/notargets/gocca"
)

// CreateTestDevice creates a device for testing, preferring parallel
// backends and falling back to Serial.
func CreateTestDevice() *gocca.OCCADevice {
	backends := []string{
		`{"mode": "OpenMP"}`,
		`{"mode": "CUDA", "device_id": 0}`,
		`{"mode": "Serial"}`,
	}

	for _, props := range backends {
		device, err := gocca.NewDevice(props)
		if err == nil {
			fmt.Printf("Created %s device\n", device.Mode())
			return device
		}
	}

	panic("failed to create any device")
}
