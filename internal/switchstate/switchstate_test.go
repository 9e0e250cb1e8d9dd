package switchstate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStates = []State{On, Off}

func TestEncodeDecode(t *testing.T) {
	for _, s := range allStates {
		assert.Equal(t, s, Decode(Encode(s)), "state %s", s)
	}

	assert.Equal(t, WireOn, Encode(On))
	assert.Equal(t, WireOff, Encode(Off))
}

func TestDecodeLenient(t *testing.T) {
	tests := []struct {
		wire     int8
		expected State
	}{
		{1, On},
		{0, Off},
		{-5, Off},
		{2, Off},
		{127, Off},
		{-128, Off},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, Decode(tt.wire), "wire value %d", tt.wire)
	}
}

func TestNegate(t *testing.T) {
	for _, s := range allStates {
		assert.NotEqual(t, s, Negate(s))
		assert.Equal(t, s, Negate(Negate(s)))
		assert.Equal(t, Negate(s), s.Not())
	}
}

func TestInitialValueIsOff(t *testing.T) {
	var s State
	assert.Equal(t, Off, s)
}

func TestParseState(t *testing.T) {
	tests := []struct {
		input    string
		expected State
		wantErr  bool
	}{
		{"on", On, false},
		{"ON", On, false},
		{" 1 ", On, false},
		{"true", On, false},
		{"off", Off, false},
		{"Off", Off, false},
		{"0", Off, false},
		{"false", Off, false},
		{"maybe", Off, true},
		{"", Off, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			s, err := ParseState(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidState)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, s)
		})
	}
}

func TestStateJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		State State `json:"state"`
	}{On})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"on"}`, string(data))

	var out struct {
		State State `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"state":"off"}`), &out))
	assert.Equal(t, Off, out.State)

	assert.Error(t, json.Unmarshal([]byte(`{"state":"sideways"}`), &out))
}
