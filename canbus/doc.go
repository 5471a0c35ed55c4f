// Package canbus provides the CAN frame model and two reception paths over
// an opened CAN device.
//
// The normal path (Channel) is event driven: each Poll drains every frame
// currently available on the device into a bounded buffer and fires
// per-frame callbacks. The high-performance path (Receiver) runs a dedicated
// goroutine that batch-reads frames into a bounded queue with a drop-oldest
// overflow policy, trading a short idle sleep for low delivery latency.
//
// The device itself is an external collaborator: callers supply anything
// satisfying the Device interface, typically a SocketCAN binding.
package canbus
