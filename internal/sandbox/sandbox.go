// Package sandbox specifies the agent-provisioning contract the kernel
// relies on to run work (spec.md §6: "sandbox provisioning (remote
// container creation)" is an external collaborator). Provisioner is the
// seam; the kernel never creates or tears down a compute sandbox itself,
// it only asks one to be spawned, sends it messages, and watches its
// heartbeat through storage.AgentRepo.
package sandbox

import (
	"context"
	"time"

	"github.com/taskkernel/core/internal/kerrors"
)

// MessageKind distinguishes an out-of-band intervention from a routine
// assignment notice (spec.md §6).
type MessageKind string

const (
	MessageAssignment   MessageKind = "assignment"
	MessageIntervention MessageKind = "intervention"
	MessageCancel       MessageKind = "cancel"
)

// SpawnRequest describes the agent a caller wants provisioned.
type SpawnRequest struct {
	Type         string
	PhaseID      string
	Capabilities []string
	Tags         map[string]string
}

// SpawnedAgent is the provisioner's receipt for a spawn_agent call.
type SpawnedAgent struct {
	ID           string
	Type         string
	Capabilities []string
}

// Provisioner is the external sandbox/agent transport contract (spec.md
// §6: `spawn_agent(type, phase, capabilities, tags) → agent{id, ...}`;
// `send_message(target_id, message, kind)`). Any client satisfying this
// can back a Dispatcher.
type Provisioner interface {
	SpawnAgent(ctx context.Context, req SpawnRequest) (*SpawnedAgent, error)
	SendMessage(ctx context.Context, targetID, message string, kind MessageKind) error
}

// HeartbeatSink is the storage-side half of the heartbeat contract: the
// provisioner's agents PATCH their own liveness, the kernel only records
// and ages it out (spec.md §12 Agent heartbeat contract).
type HeartbeatSink interface {
	Heartbeat(ctx context.Context, agentID string) error
}

// Dispatcher wraps a Provisioner with the kernel-side bookkeeping a spawn
// or intervention needs: every spawn is recorded as a fresh heartbeat so
// the validator-timeout sweep doesn't immediately treat a just-spawned
// agent as stale.
type Dispatcher struct {
	provisioner Provisioner
	heartbeats  HeartbeatSink
	timeout     time.Duration
}

// New wires a Dispatcher around a Provisioner and the heartbeat sink that
// records spawned agents (normally storage.AgentRepo). timeout <= 0
// defaults to 30s, bounding every call per spec.md's "all external calls
// run with explicit deadlines" (§5).
func New(provisioner Provisioner, heartbeats HeartbeatSink, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{provisioner: provisioner, heartbeats: heartbeats, timeout: timeout}
}

// Spawn requests a new agent and seeds its heartbeat so it isn't reaped
// before it has had a chance to check in on its own.
func (d *Dispatcher) Spawn(ctx context.Context, req SpawnRequest) (*SpawnedAgent, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	agent, err := d.provisioner.SpawnAgent(ctx, req)
	if err != nil {
		return nil, kerrors.ExternalTimeout("sandbox.spawn", err)
	}
	if err := d.heartbeats.Heartbeat(ctx, agent.ID); err != nil {
		return nil, err
	}
	return agent, nil
}

// Notify sends an out-of-band message to a running agent, e.g. a
// validator rejection's recommendations or a diagnostic-triggered
// cancellation.
func (d *Dispatcher) Notify(ctx context.Context, targetID, message string, kind MessageKind) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.provisioner.SendMessage(ctx, targetID, message, kind); err != nil {
		return kerrors.ExternalTimeout("sandbox.send_message", err)
	}
	return nil
}
