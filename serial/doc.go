// Package serial provides a buffered byte-stream channel over a serial port.
//
// The channel decouples callers from port timing: writes are queued and
// drained by a background writer task, incoming bytes are accumulated in a
// bounded read buffer by a background reader task, and all read operations
// are non-blocking. Callers poll with ReadAvailable/ReadLine or wait with
// WaitReady.
//
// The real port backend is go.bug.st/serial; the channel itself only depends
// on the narrow Port interface so tests can inject an in-memory fake.
package serial
