package transportregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/transport"
	"github.com/c360/rtlink/transport/inproc"
)

func TestRegister(t *testing.T) {
	reg := transport.NewRegistry()
	require.NoError(t, Register(reg, inproc.NewBus(nil)))
	assert.Equal(t, []string{"inproc", "nats", "tcp"}, reg.Names())

	p, err := reg.CreateProvider("tcp", transport.Dependencies{})
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestRegister_NilArguments(t *testing.T) {
	assert.True(t, errors.IsFatal(Register(nil, inproc.NewBus(nil))))
	assert.True(t, errors.IsFatal(Register(transport.NewRegistry(), nil)))
}
