// Package engine drives generative runs from creation through external
// submission, polling, and artifact propagation. A bounded worker pool
// executes each run's lifecycle as a single-writer state machine over the
// persisted record, and a polling watcher republishes record changes to
// stream subscribers.
package engine
