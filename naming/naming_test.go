package naming

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rtlink/errors"
)

func exerciseDirectory(t *testing.T, dir Directory) {
	t.Helper()
	ctx := context.Background()

	_, err := dir.Lookup(ctx, KindEndpoint, "scan")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrKeyNotFound))

	require.NoError(t, dir.Register(ctx, Record{Name: "scan", Address: "127.0.0.1:7000", DataType: "LaserScan"}))
	require.NoError(t, dir.Register(ctx, Record{Name: "scan_front", Address: "127.0.0.1:7001"}))
	require.NoError(t, dir.Register(ctx, Record{Name: "odom", Address: "127.0.0.1:7002"}))
	require.NoError(t, dir.Register(ctx, Record{Name: "scan", Kind: KindComponent, Owner: "lidar"}))

	rec, err := dir.Lookup(ctx, KindEndpoint, "scan")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", rec.Address)
	assert.Equal(t, KindEndpoint, rec.Kind)
	assert.False(t, rec.Registered.IsZero())

	comp, err := dir.Lookup(ctx, KindComponent, "scan")
	require.NoError(t, err)
	assert.Equal(t, "lidar", comp.Owner)

	// Re-registering replaces
	require.NoError(t, dir.Register(ctx, Record{Name: "scan", Address: "127.0.0.1:7100"}))
	rec, err = dir.Lookup(ctx, "", "scan")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7100", rec.Address)

	list, err := dir.List(ctx, KindEndpoint, "scan")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "scan", list[0].Name)
	assert.Equal(t, "scan_front", list[1].Name)

	require.NoError(t, dir.Unregister(ctx, KindEndpoint, "scan"))
	require.NoError(t, dir.Unregister(ctx, KindEndpoint, "scan"))
	_, err = dir.Lookup(ctx, KindEndpoint, "scan")
	assert.True(t, stderrors.Is(err, errors.ErrKeyNotFound))

	err = dir.Register(ctx, Record{Name: ""})
	assert.Equal(t, errors.BadParameter, errors.Code(err))
}

func TestMemory(t *testing.T) {
	exerciseDirectory(t, NewMemory())
}

func TestStatic_WithOverlay(t *testing.T) {
	s, err := NewStatic(nil, NewMemory())
	require.NoError(t, err)
	exerciseDirectory(t, s)
}

func TestStatic_FixedPeers(t *testing.T) {
	ctx := context.Background()
	s, err := NewStatic([]Record{
		{Name: "scan", Transport: "tcp", Address: "10.0.0.2:7000"},
		{Name: "odom", Address: "10.0.0.3:7000"},
	}, nil)
	require.NoError(t, err)

	rec, err := s.Lookup(ctx, KindEndpoint, "scan")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:7000", rec.Address)

	// Listed names accept announcements without changing the fixed address
	require.NoError(t, s.Register(ctx, Record{Name: "scan", Address: "127.0.0.1:1"}))
	rec, _ = s.Lookup(ctx, KindEndpoint, "scan")
	assert.Equal(t, "10.0.0.2:7000", rec.Address)
	require.NoError(t, s.Unregister(ctx, KindEndpoint, "scan"))

	err = s.Register(ctx, Record{Name: "imu"})
	assert.Equal(t, errors.PreconditionNotMet, errors.Code(err))

	_, err = s.Lookup(ctx, KindEndpoint, "imu")
	assert.True(t, stderrors.Is(err, errors.ErrKeyNotFound))

	list, err := s.List(ctx, KindEndpoint, "")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "odom", list[0].Name)
}

func TestStatic_RejectsDuplicates(t *testing.T) {
	_, err := NewStatic([]Record{{Name: "scan"}, {Name: "scan", Kind: KindEndpoint}}, nil)
	assert.Equal(t, errors.BadParameter, errors.Code(err))
}

func TestRecord_Validate(t *testing.T) {
	assert.NoError(t, Record{Name: "robot1/scan"}.Validate())
	assert.Error(t, Record{Name: "a b"}.Validate())
	assert.Error(t, Record{Name: "scan.*"}.Validate())
	assert.Equal(t, "endpoint/scan", Record{Name: "scan"}.Key())
	assert.Equal(t, "component/arm", Key(KindComponent, "arm"))
}

func TestKVKey(t *testing.T) {
	key, err := kvKey(KindEndpoint, "robot1/scan")
	require.NoError(t, err)
	assert.Equal(t, "endpoint/robot1/scan", key)

	_, err = kvKey(KindEndpoint, "scan:0")
	assert.Error(t, err)
}
