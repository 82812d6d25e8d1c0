// File: pool/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package pool provides the generic object pool backing api.BufferPool: the
// byte slices a connection's watermark read loop is drawn from, so that loop
// does not allocate a fresh []byte per header/length/mask/payload read. The
// protocol engine's own buffers and outbound frames are not pooled.
package pool
