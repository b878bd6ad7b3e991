package mac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/signalsfoundry/satcom-simulator/model"
)

func TestTbtpTimeslotsKeepsPlanOrder(t *testing.T) {
	ut1 := model.AddressFromID(1)
	ut2 := model.AddressFromID(2)

	tbtp := &Tbtp{SuperframeID: 0, SuperframeCounter: 7}
	tbtp.Add(ut1, 0, 4)
	tbtp.Add(ut2, 0, 1)
	tbtp.Add(ut1, 1, 0)
	tbtp.Add(ut1, 0, 2)

	assert.Equal(t, []Grant{{0, 4}, {1, 0}, {0, 2}}, tbtp.Timeslots(ut1))
	assert.Equal(t, []Grant{{0, 1}}, tbtp.Timeslots(ut2))
	assert.Empty(t, tbtp.Timeslots(model.AddressFromID(3)))
}

func TestTbtpWireRoundTrip(t *testing.T) {
	tbtp := &Tbtp{SuperframeID: 2, SuperframeCounter: 300}
	tbtp.Add(model.AddressFromID(10), 1, 17)
	tbtp.Add(model.Broadcast, 0, 0)

	b, err := tbtp.MarshalBinary()
	require.NoError(t, err)

	got, err := UnmarshalTbtp(b)
	require.NoError(t, err)
	assert.Equal(t, tbtp, got)
}

func TestUnmarshalTbtpSkipsUnknownFields(t *testing.T) {
	tbtp := &Tbtp{SuperframeID: 1, SuperframeCounter: 9}
	b, err := tbtp.MarshalBinary()
	require.NoError(t, err)

	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))

	got, err := UnmarshalTbtp(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), got.SuperframeCounter)
}

func TestUnmarshalTbtpRejectsGarbage(t *testing.T) {
	_, err := UnmarshalTbtp([]byte{0x1a, 0x05, 0x08})
	require.ErrorIs(t, err, ErrMalformedTbtp)

	var entry []byte
	entry = protowire.AppendTag(entry, fieldEntryAddress, protowire.BytesType)
	entry = protowire.AppendBytes(entry, []byte{1, 2, 3})
	var b []byte
	b = protowire.AppendTag(b, fieldEntry, protowire.BytesType)
	b = protowire.AppendBytes(b, entry)

	_, err = UnmarshalTbtp(b)
	require.ErrorIs(t, err, ErrMalformedTbtp)
}
