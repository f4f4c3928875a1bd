//go:build linux

// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for video device and subdevice handling.
//
// This package does not use cgo. It exposes two device handles: VideoDevice
// for video capture/output nodes (format negotiation, buffer export,
// queue/dequeue, stream control) and Subdevice for pad-addressable
// subdevices (per-pad formats, crop/compose selection, media-bus format
// enumeration).
//
// # Video nodes
//
//	dev := v4l2.NewVideoDevice("/dev/video0")
//	if err := dev.Open(); err != nil { ... }
//	format := v4l2.DeviceFormat{Width: 1920, Height: 1080, Fourcc: v4l2.PixFmtNV12}
//	err := dev.SetFormat(&format) // format updated with driver-adjusted values
//
// # Subdevices
//
//	sub := v4l2.NewSubdevice("/dev/v4l-subdev0", "imx258")
//	formats, err := sub.Formats(0)
//	for code, sizes := range formats { ... }
//
// Buffer completion is delivered through the callback registered with
// VideoDevice.OnBufferReady, invoked from the device's dequeue goroutine
// while streaming.
package v4l2
