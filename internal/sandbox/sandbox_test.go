package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeProvisioner struct {
	spawned  []SpawnRequest
	messages []string
	spawnErr error
	sendErr  error
}

func (f *fakeProvisioner) SpawnAgent(_ context.Context, req SpawnRequest) (*SpawnedAgent, error) {
	f.spawned = append(f.spawned, req)
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	return &SpawnedAgent{ID: "agent-1", Type: req.Type, Capabilities: req.Capabilities}, nil
}

func (f *fakeProvisioner) SendMessage(_ context.Context, targetID, message string, kind MessageKind) error {
	f.messages = append(f.messages, string(kind)+":"+targetID+":"+message)
	return f.sendErr
}

type fakeHeartbeats struct {
	beaten []string
	err    error
}

func (f *fakeHeartbeats) Heartbeat(_ context.Context, agentID string) error {
	f.beaten = append(f.beaten, agentID)
	return f.err
}

func TestDispatcherSpawn_SeedsHeartbeatOnSuccess(t *testing.T) {
	p := &fakeProvisioner{}
	h := &fakeHeartbeats{}
	d := New(p, h, 0)

	agent, err := d.Spawn(context.Background(), SpawnRequest{Type: "implement", PhaseID: "phase-1"})
	require.NoError(t, err)
	require.Equal(t, "agent-1", agent.ID)
	require.Equal(t, []string{"agent-1"}, h.beaten)
}

func TestDispatcherSpawn_ProvisionerErrorIsExternalTimeout(t *testing.T) {
	p := &fakeProvisioner{spawnErr: errors.New("no capacity")}
	h := &fakeHeartbeats{}
	d := New(p, h, 0)

	_, err := d.Spawn(context.Background(), SpawnRequest{Type: "implement"})
	require.Error(t, err)
	require.Empty(t, h.beaten)
}

func TestDispatcherSpawn_HeartbeatErrorPropagates(t *testing.T) {
	p := &fakeProvisioner{}
	h := &fakeHeartbeats{err: errors.New("db down")}
	d := New(p, h, 0)

	_, err := d.Spawn(context.Background(), SpawnRequest{Type: "implement"})
	require.Error(t, err)
}

func TestDispatcherNotify_SendsInterventionMessage(t *testing.T) {
	p := &fakeProvisioner{}
	h := &fakeHeartbeats{}
	d := New(p, h, 0)

	err := d.Notify(context.Background(), "agent-1", "stand down", MessageIntervention)
	require.NoError(t, err)
	require.Equal(t, []string{"intervention:agent-1:stand down"}, p.messages)
}

func TestDispatcherNotify_SendErrorIsExternalTimeout(t *testing.T) {
	p := &fakeProvisioner{sendErr: errors.New("unreachable")}
	h := &fakeHeartbeats{}
	d := New(p, h, 0)

	err := d.Notify(context.Background(), "agent-1", "hi", MessageCancel)
	require.Error(t, err)
}
