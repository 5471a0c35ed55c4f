package protocol

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProtocol is a minimal Protocol implementation for registry tests.
type fakeProtocol struct {
	name       string
	kind       Kind
	connected  atomic.Bool
	connectErr error
}

func newFakeProtocol(name string, kind Kind) *fakeProtocol {
	return &fakeProtocol{name: name, kind: kind}
}

func (p *fakeProtocol) Name() string { return p.name }
func (p *fakeProtocol) Kind() Kind   { return p.kind }

func (p *fakeProtocol) Connect() error {
	if p.connectErr != nil {
		return p.connectErr
	}
	p.connected.Store(true)

	return nil
}

func (p *fakeProtocol) Disconnect() error {
	p.connected.Store(false)

	return nil
}

func (p *fakeProtocol) IsConnected() bool { return p.connected.Load() }

func (p *fakeProtocol) State() State {
	if p.connected.Load() {
		return ConnectedState
	}

	return DisconnectedState
}

func (p *fakeProtocol) OnStateChange(_ StateChangeHandler) {}

func TestRegistry_CreateAndGet(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	reg := NewRegistry(nil)
	reg.RegisterFactory(KindRTUMaster, func(name string, _ any) (Protocol, error) {
		return newFakeProtocol(name, KindRTUMaster), nil
	})

	t.Run("create", func(t *testing.T) {
		inst, err := reg.Create("plc1", KindRTUMaster, nil)
		require.NoError(err)
		require.NotNil(inst)
		assert.Equal("plc1", inst.Name())
		assert.Equal(1, reg.Count())
	})

	t.Run("duplicate name rejected", func(t *testing.T) {
		_, err := reg.Create("plc1", KindRTUMaster, nil)
		require.ErrorIs(err, ErrDuplicateName)
		assert.Equal(1, reg.Count())
	})

	t.Run("unknown kind rejected", func(t *testing.T) {
		_, err := reg.Create("plc2", KindTCPMaster, nil)
		require.ErrorIs(err, ErrUnknownKind)
	})

	t.Run("get", func(t *testing.T) {
		inst, ok := reg.Get("plc1")
		require.True(ok)
		assert.Equal("plc1", inst.Name())

		_, ok = reg.Get("nope")
		assert.False(ok)
	})
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := NewRegistry(nil)

	wantErr := errors.New("bad config")
	reg.RegisterFactory(KindRTUSlave, func(_ string, _ any) (Protocol, error) {
		return nil, wantErr
	})

	_, err := reg.Create("slave1", KindRTUSlave, nil)
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 0, reg.Count())
}

func TestRegistry_GetByKindAndNames(t *testing.T) {
	assert := assert.New(t)

	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(newFakeProtocol("a", KindRTUMaster)))
	require.NoError(t, reg.Register(newFakeProtocol("b", KindTCPMaster)))
	require.NoError(t, reg.Register(newFakeProtocol("c", KindTCPMaster)))

	assert.Len(reg.GetByKind(KindRTUMaster), 1)
	assert.Len(reg.GetByKind(KindTCPMaster), 2)
	assert.Empty(reg.GetByKind(KindRTUSlave))

	assert.ElementsMatch([]string{"a", "b", "c"}, reg.Names())
	assert.Equal(3, reg.Count())
}

func TestRegistry_Destroy(t *testing.T) {
	require := require.New(t)

	reg := NewRegistry(nil)
	p := newFakeProtocol("gone", KindRTUMaster)
	require.NoError(reg.Register(p))
	require.NoError(p.Connect())

	var destroyed []string
	reg.OnDestroyed(func(name string) { destroyed = append(destroyed, name) })

	require.NoError(reg.Destroy("gone"))
	require.False(p.IsConnected())
	require.Equal(0, reg.Count())
	require.Equal([]string{"gone"}, destroyed)

	require.ErrorIs(reg.Destroy("gone"), ErrNotFound)
}

func TestRegistry_DestroyAll(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(newFakeProtocol("x", KindRTUMaster)))
	require.NoError(t, reg.Register(newFakeProtocol("y", KindRTUSlave)))

	reg.DestroyAll()
	require.Equal(t, 0, reg.Count())
}

func TestRegistry_ConnectAllDisconnectAll(t *testing.T) {
	require := require.New(t)

	reg := NewRegistry(nil)
	a := newFakeProtocol("a", KindRTUMaster)
	b := newFakeProtocol("b", KindTCPMaster)
	require.NoError(reg.Register(a))
	require.NoError(reg.Register(b))

	require.NoError(reg.ConnectAll(context.Background()))
	require.True(a.IsConnected())
	require.True(b.IsConnected())

	require.NoError(reg.DisconnectAll(context.Background()))
	require.False(a.IsConnected())
	require.False(b.IsConnected())
}

func TestRegistry_ConnectAllPartialFailure(t *testing.T) {
	require := require.New(t)

	reg := NewRegistry(nil)
	good := newFakeProtocol("good", KindRTUMaster)
	bad := newFakeProtocol("bad", KindTCPMaster)
	bad.connectErr = errors.New("port in use")
	require.NoError(reg.Register(good))
	require.NoError(reg.Register(bad))

	err := reg.ConnectAll(context.Background())
	require.Error(err)
	require.True(good.IsConnected())
	require.False(bad.IsConnected())
}

func TestRegistry_OnCreated(t *testing.T) {
	reg := NewRegistry(nil)

	var created []string
	reg.OnCreated(func(name string, _ Kind) { created = append(created, name) })

	require.NoError(t, reg.Register(newFakeProtocol("n1", KindRTUMaster)))
	require.Equal(t, []string{"n1"}, created)
}
