// Package protocol defines the coordinator/worker wire protocol: a single
// bidirectional gRPC stream per worker carrying tagged-union messages in
// both directions, plus the job/proof-share/worker data model they carry.
package protocol

import "time"

// JobPhase is one of the three phases a job's task type selects.
type JobPhase int

const (
	PhaseContribution JobPhase = iota
	PhaseProve
	PhaseAggregate
)

func (p JobPhase) String() string {
	switch p {
	case PhaseContribution:
		return "contribution"
	case PhaseProve:
		return "prove"
	case PhaseAggregate:
		return "aggregate"
	default:
		return "unknown"
	}
}

// JobState is a job's lifecycle state: Pending -> Running -> {Succeeded,
// Failed, Cancelled}.
type JobState int

const (
	JobPending JobState = iota
	JobRunning
	JobSucceeded
	JobFailed
	JobStateCancelled
)

// Job is a (job_id, data_id, phase) triple plus its current
// lifecycle state.
type Job struct {
	JobID  string
	DataID string
	Phase  JobPhase
	State  JobState
}

// WorkerConnState is a worker's connection state, stringly encoded on the
// wire.
type WorkerConnState int

const (
	WorkerDisconnected WorkerConnState = iota
	WorkerConnecting
	WorkerIdle
	WorkerBusy
	WorkerError
)

func (s WorkerConnState) String() string {
	switch s {
	case WorkerDisconnected:
		return "Disconnected"
	case WorkerConnecting:
		return "Connecting"
	case WorkerIdle:
		return "Idle"
	case WorkerBusy:
		return "Busy"
	case WorkerError:
		return "Error"
	default:
		return "Unknown"
	}
}

// TaskType selects which params variant an ExecuteTask carries.
type TaskType int

const (
	TaskContribution TaskType = iota
	TaskProve
	TaskAggregate
)

// Challenge is a worker's per-chunk contribution summary, grouped by
// airgroup before the Prove phase.
type Challenge struct {
	AirgroupID int
	WorkerIdx  int
	Value      []uint64
}

// ProofShare is an (airgroup_id, worker_idx, values[]) tuple.
// Aggregation produces a ProofShare of the same shape covering a range of
// workers.
type ProofShare struct {
	AirgroupID int
	WorkerIdx  int
	Values     []uint64
}

// FinalProof is the terminal aggregation's output, carrying the executed
// step count alongside the proof bytes.
type FinalProof struct {
	Proof         []byte
	ExecutedSteps uint64
}

// TaskResult is the data payload of a successful ExecuteTaskResponse: the
// result_data oneof (challenges | proofs | final_proof).
type TaskResult struct {
	Challenges []Challenge
	Proofs     []ProofShare
	FinalProof *FinalProof
}

// ContributionParams selects the chunk range a Contribution task computes.
type ContributionParams struct {
	ChunkIDs []int
}

// ProveParams carries the challenges (grouped by airgroup) a Prove task
// proves.
type ProveParams struct {
	Challenges []Challenge
}

// AggParams carries one aggregation round's inputs.
type AggParams struct {
	AggProofs  []ProofShare
	LastProof  bool
	FinalProof bool
	Compressed bool
}

// ExecuteTask dispatches one unit of work to a worker. InputPath, when
// non-empty, is a relative path the worker must validate against its
// configured input base directory (canonicalize-and-contain) and poll
// for existence before dispatching the task's compute.
type ExecuteTask struct {
	JobID              string
	TaskType           TaskType
	InputPath          string
	ContributionParams *ContributionParams
	ProveParams        *ProveParams
	AggParams          *AggParams
}

// RegisterRequest is a worker's first-message registration.
type RegisterRequest struct {
	WorkerID string
	Capacity int
}

// ReconnectRequest is a worker's first-message re-registration after a
// dropped connection, carrying the last job id it was working when it
// disconnected.
type ReconnectRequest struct {
	WorkerID     string
	Capacity     int
	LastKnownJob string
}

// ExecuteTaskResponse reports a task's outcome.
type ExecuteTaskResponse struct {
	JobID        string
	TaskType     TaskType
	Success      bool
	Result       *TaskResult
	ErrorMessage string
}

// WorkerErrorMsg reports a worker-side fault unrelated to a specific task
// response.
type WorkerErrorMsg struct {
	WorkerID string
	JobID    string
	Message  string
}

// StreamDataFragment carries an out-of-band byte stream (hints or inputs)
// alongside the control-plane messages, in either direction.
type StreamDataFragment struct {
	Channel string
	Seq     uint64
	Data    []byte
	Final   bool
}

// WorkerMessageKind discriminates WorkerMessage's tagged union.
type WorkerMessageKind int

const (
	WorkerMsgRegister WorkerMessageKind = iota
	WorkerMsgReconnect
	WorkerMsgHeartbeatAck
	WorkerMsgExecuteTaskResponse
	WorkerMsgWorkerError
	WorkerMsgStreamData
)

// WorkerMessage is one worker -> coordinator message.
type WorkerMessage struct {
	Kind                WorkerMessageKind
	Register            *RegisterRequest
	Reconnect           *ReconnectRequest
	ExecuteTaskResponse *ExecuteTaskResponse
	WorkerError         *WorkerErrorMsg
	StreamData          *StreamDataFragment
}

// RegisterResponse answers a worker's Register/Reconnect message.
type RegisterResponse struct {
	Accepted     bool
	Message      string
	RegisteredAt time.Time
}

// Heartbeat is sent on a 30-second cadence to every connected worker.
type Heartbeat struct {
	Timestamp time.Time
}

// JobCancelled instructs a worker to abort its current computation iff its
// job id matches.
type JobCancelled struct {
	JobID  string
	Reason string
}

// ShutdownMsg instructs a worker to drain and exit the stream loop.
type ShutdownMsg struct {
	Reason       string
	GraceSeconds int
}

// CoordinatorMessageKind discriminates CoordinatorMessage's tagged union.
type CoordinatorMessageKind int

const (
	CoordMsgRegisterResponse CoordinatorMessageKind = iota
	CoordMsgHeartbeat
	CoordMsgExecuteTask
	CoordMsgJobCancelled
	CoordMsgStreamData
	CoordMsgShutdown
)

// CoordinatorMessage is one coordinator -> worker message.
type CoordinatorMessage struct {
	Kind             CoordinatorMessageKind
	RegisterResponse *RegisterResponse
	Heartbeat        *Heartbeat
	ExecuteTask      *ExecuteTask
	JobCancelled     *JobCancelled
	StreamData       *StreamDataFragment
	Shutdown         *ShutdownMsg
}

// InputsMode selects how LaunchProof's inputs are supplied.
type InputsMode int

const (
	InputsNone InputsMode = iota
	InputsPath
	InputsData
)

// HintsMode selects how LaunchProof's precompile hints are supplied.
type HintsMode int

const (
	HintsNone HintsMode = iota
	HintsPath
	HintsStream
)

// LaunchProofRequest is the summary of the external gRPC LaunchProof RPC
// surface; the coordinator turns it into one or more Jobs.
type LaunchProofRequest struct {
	DataID                 string
	ComputeCapacity        int
	MinimalComputeCapacity int
	InputsMode             InputsMode
	InputsURI              string
	HintsMode              HintsMode
	HintsURI               string
	SimulatedNode          bool
}
