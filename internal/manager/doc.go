// Package manager owns the pipeline instances of the server: admission
// against the running bound, the per-instance state machine, and the worker
// that drains an instance's frame output into a live stream destination.
// It is structured into small files by concern:
//
//   - manager.go: core Manager type, Create/Start/CreateInstance.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: instance State machine and the Instance record.
//   - destination.go: parsing of the frame destination request parameter.
//   - worker.go: per-instance run loop, frame pump and rolling metrics.
//   - ops.go: StopInstance, Wait, StopAll, Shutdown, Remove.
//   - status_report.go: Status, List and Snapshot projections.
//   - events.go / eventpub_memory.go: lifecycle event publishing.
//
// External packages should treat Manager as the only entry point; Instance
// values are never handed out, callers receive copies in pkg/types form.
package manager
