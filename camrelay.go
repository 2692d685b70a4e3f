// Package camrelay relays live camera frames through an external encoder
// into a named transport endpoint that a media player can read.
//
// The relay runs a single control loop: it pulls raw frames from a
// FrameSource, paces them against a target frame rate, hands kept frames to
// an Encoder, and recovers the downstream channel whenever the consumer
// disconnects or the encoder dies. A disconnected viewer never takes down
// the capture pipeline; the relay recreates the endpoint and restarts the
// encoder so a reconnecting viewer sees only fresh frames.
package camrelay

import "github.com/edaniels/golog"

// Logger is the global logger used when a config does not supply one.
var Logger = golog.Global()

// Debug controls whether hot path debug logging is on.
var Debug = false
