// Package stereo runs the per-frame passthrough loop.
//
// Scheduler.Tick performs one frame: wait for the pacing point, take the
// newest frame from each eye's ring, draw the two render passes the mesh
// order prescribes (optionally half a period apart) and present. Pipeline
// owns the resources a Scheduler needs and releases them in reverse order
// of acquisition.
package stereo
