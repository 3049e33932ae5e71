package device

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial-device/internal/discovery"
	"serial-device/internal/protocol"
	"serial-device/internal/protocol/protocoltest"
)

func newRecord(t *testing.T, name, port string) *Record {
	t.Helper()
	framer, err := protocol.NewFramer(protocoltest.EOT, "utf-8")
	require.NoError(t, err)
	ch := protocol.NewChannel(protocol.SerialConfig{
		Port:         port,
		BaudRate:     115200,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}, framer, protocoltest.NewBus().Open, zap.NewNop())
	return &Record{Name: name, Port: discovery.PortInfo{Name: port}, Channel: ch}
}

func TestRegistryAddLookup(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	a := newRecord(t, "B-dev", "/dev/ttyUSB0")
	b := newRecord(t, "A-dev", "/dev/ttyUSB1")

	assert.True(t, r.Add(a))
	assert.True(t, r.Add(b))
	assert.Equal(t, 2, r.Len())

	got, ok := r.Lookup("B-dev")
	require.True(t, ok)
	assert.Same(t, a, got)

	got, ok = r.LookupHandle(b.Channel.ID())
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
	_, ok = r.LookupHandle(uuid.New())
	assert.False(t, ok)

	assert.Equal(t, []string{"A-dev", "B-dev"}, r.Names())
	records := r.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "A-dev", records[0].Name)
}

func TestRegistryFirstWins(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	first := newRecord(t, "dup", "/dev/ttyUSB1")
	second := newRecord(t, "dup", "/dev/ttyUSB0")

	assert.True(t, r.Add(first))
	assert.False(t, r.Add(second))

	got, _ := r.Lookup("dup")
	assert.Same(t, first, got)
	_, ok := r.LookupHandle(second.Channel.ID())
	assert.False(t, ok)
}

func TestRegistryReset(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	rec := newRecord(t, "dev", "/dev/ttyUSB0")
	r.Add(rec)

	previous := r.Reset()
	require.Len(t, previous, 1)
	assert.Same(t, rec, previous[0])
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Names())
	_, ok := r.LookupHandle(rec.Channel.ID())
	assert.False(t, ok)
}

func TestReference(t *testing.T) {
	name, ok := ByName("dev").Name()
	assert.True(t, ok)
	assert.Equal(t, "dev", name)
	_, ok = ByName("dev").Handle()
	assert.False(t, ok)

	id := uuid.New()
	h, ok := ByHandle(id).Handle()
	assert.True(t, ok)
	assert.Equal(t, id, h)
	_, ok = ByHandle(id).Name()
	assert.False(t, ok)

	assert.Equal(t, "name:dev", ByName("dev").String())
	assert.Equal(t, "handle:"+id.String(), ByHandle(id).String())
	assert.Equal(t, "none", Reference{}.String())
}
