package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type change struct {
	Op   string `json:"op"`
	Code string `json:"code"`
}

func TestEncodeKeepsKeysAndOrder(t *testing.T) {
	msgs, err := encode([]Event{
		{Key: "75310100", Value: change{Op: "upsert", Code: "75310100"}},
		{Key: "83220100", Value: change{Op: "delete", Code: "83220100"}},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "75310100", string(msgs[0].Key))
	assert.JSONEq(t, `{"op":"upsert","code":"75310100"}`, string(msgs[0].Value))

	got, err := DecodeJSON[change](msgs[1].Value)
	require.NoError(t, err)
	assert.Equal(t, change{Op: "delete", Code: "83220100"}, got)
}

func TestEncodeRejectsUnencodableValues(t *testing.T) {
	_, err := encode([]Event{{Key: "k", Value: make(chan int)}})
	assert.ErrorContains(t, err, `encoding event "k"`)
}

func TestDecodeJSONError(t *testing.T) {
	_, err := DecodeJSON[change]([]byte("{"))
	assert.ErrorContains(t, err, "decoding kafka message")
}
