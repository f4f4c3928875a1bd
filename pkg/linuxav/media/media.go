//go:build linux

// Package media provides pure Go bindings to the Linux Media Controller
// API for media graph discovery and link setup.
//
// A MediaDevice models one /dev/media* node: its driver identity and the
// graph of entities, pads and links the kernel reports. The Enumerator
// scans the system for media devices and answers DeviceMatch queries,
// skipping devices already acquired by another user.
//
//	enum := media.NewEnumerator()
//	if err := enum.Scan(); err != nil { ... }
//
//	dm := media.NewDeviceMatch("ipu3-cio2")
//	dm.Add("ipu3-csi2 0")
//	dev := enum.Search(dm)
//	if dev != nil && dev.Acquire() { ... }
package media
