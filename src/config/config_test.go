package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkanadev/raiblocks/src/types"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	conf := NewDefaultConfig()
	conf.PeeringPort = 12345
	conf.RebroadcastDelay = 250 * time.Millisecond
	conf.ReceiveMinimum = types.NewAmount(1000)
	conf.PreconfiguredPeers = []string{"rai.example.com"}

	rep, err := types.ParseAccount("0102030400000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)
	conf.PreconfiguredRepresentatives = []types.Account{rep}

	data, err := conf.SerializeJSON()
	require.NoError(t, err)

	decoded := NewDefaultConfig()
	upgraded, err := decoded.DeserializeJSON(data)
	require.NoError(t, err)
	assert.False(t, upgraded, "current document should not need an upgrade")

	assert.Equal(t, conf.PeeringPort, decoded.PeeringPort)
	assert.Equal(t, conf.RebroadcastDelay, decoded.RebroadcastDelay)
	assert.Zero(t, conf.ReceiveMinimum.Cmp(decoded.ReceiveMinimum))
	assert.Equal(t, conf.PreconfiguredPeers, decoded.PreconfiguredPeers)
	assert.Equal(t, conf.PreconfiguredRepresentatives, decoded.PreconfiguredRepresentatives)
}

func TestUpgradeJSONFromVersion1(t *testing.T) {
	conf := NewDefaultConfig()
	data, err := conf.SerializeJSON()
	require.NoError(t, err)

	// Rewind the document to version 1 without the fields version 2 added.
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["version"] = json.RawMessage(`1`)
	delete(raw, "inactive_supply")
	delete(raw, "work_peers")
	old, err := json.Marshal(raw)
	require.NoError(t, err)

	decoded := NewDefaultConfig()
	upgraded, err := decoded.DeserializeJSON(old)
	require.NoError(t, err)
	assert.True(t, upgraded, "version 1 document should be upgraded")
	assert.True(t, decoded.InactiveSupply.IsZero())
	assert.Empty(t, decoded.WorkPeers)
}

func TestUpgradeJSONFixedPoint(t *testing.T) {
	conf := NewDefaultConfig()
	data, err := conf.SerializeJSON()
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))

	upgraded, err := UpgradeJSON(raw)
	require.NoError(t, err)
	assert.False(t, upgraded)

	again, err := UpgradeJSON(raw)
	require.NoError(t, err)
	assert.False(t, again, "upgrade must be a fixed point")
}

func TestUpgradeJSONRejectsFutureVersion(t *testing.T) {
	raw := map[string]json.RawMessage{"version": json.RawMessage(`99`)}
	_, err := UpgradeJSON(raw)
	assert.ErrorIs(t, err, ErrConfigVersion)
}

func TestProfiles(t *testing.T) {
	assert.EqualValues(t, 7075, LiveProfile.DefaultPeeringPort)
	assert.EqualValues(t, 54000, BetaProfile.DefaultPeeringPort)
	assert.NotEqual(t, LiveProfile.ID, TestProfile.ID)
}
