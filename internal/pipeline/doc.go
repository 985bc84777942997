// Package pipeline wires frame acquisition to presence tracking.
//
// Two goroutines share nothing but a relay: the acquisition side reads the
// camera and pushes frames without ever blocking, and the processing side
// pops frames, runs detection and advances the tracker. Events go to the
// configured sink in emission order. The pipeline owns no domain logic; it
// delegates to capture, detect, presence and sink.
package pipeline
