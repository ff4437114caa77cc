// Package split implements the concurrent copy-engine work-splitting
// subsystem: large transfers are fanned out across independent copy engines
// ("lanes") and reassembled behind a single completion.
//
// # Reading Guide
//
// Start with these files to understand a dispatch:
//   - request.go: TransferRequest and direction classification
//   - policy.go: the split/no-split decision
//   - dispatcher.go: the Idle → Dispatching → InFlight → Completed state machine
//
// # Architecture
//
// The split package consumes the collaborator contracts in split/device and
// never talks to hardware directly:
//   - split/device/: command list, queue, event and capability interfaces
//   - split/hw/: deterministic simulated device implementing split/device
//   - split/trace/: dispatch decision recording
//   - split/workload/: transfer workload generation
//   - split/telemetry/: Prometheus sink for dispatch metrics
//
// # Key Types
//
//   - SplitPolicy: eligibility and lane-group selection by direction and size
//   - LaneGroupRegistry: lanes built from the device's link copy engines
//   - SyncEventPool: marker/barrier/subcopy batches, reused once the marker is signaled
//   - EngineLane: one command list + queue pair with a completion counter
//   - Dispatcher: orchestrates the above for one device context
//
// All state is owned by a Dispatcher; nothing is process-wide, so several
// devices can be driven side by side.
package split
