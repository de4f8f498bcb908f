// Package pipeline orchestrates sheet processing:
//
//	image → normalize → detect → filter → assemble → resolve → commit | grade
//
// Processor is stateless per request. The detector handle and the store are
// the only shared state. Scheme commits and regrades for one test are
// serialized by a per-test lock; different tests proceed in parallel.
//
// Pool bounds how many sheets are processed at once and how many may wait,
// rejecting excess load with ServerBusy instead of queueing without limit.
package pipeline
