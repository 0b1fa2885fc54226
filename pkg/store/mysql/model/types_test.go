package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONMap_Scan(t *testing.T) {
	var m JSONMap
	require.NoError(t, m.Scan([]byte(`{"whip":"https://whip","n":1}`)))
	assert.Equal(t, "https://whip", m["whip"])

	require.NoError(t, m.Scan(`{"events":"wss://events"}`))
	assert.Equal(t, "wss://events", m["events"])

	require.NoError(t, m.Scan(nil))
	assert.Nil(t, m)

	assert.Error(t, m.Scan(42))
}

func TestJSONMapToStringMap_DropsNonStrings(t *testing.T) {
	out := JSONMapToStringMap(JSONMap{"whip": "https://whip", "n": 1.0})
	assert.Equal(t, map[string]string{"whip": "https://whip"}, out)
	assert.Nil(t, JSONMapToStringMap(nil))
}
