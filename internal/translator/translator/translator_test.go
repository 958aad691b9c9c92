package translator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	Register("test-from", "test-to",
		func(model string, rawJSON []byte, stream bool) []byte {
			return []byte(`{"converted":true}`)
		},
		ResponseTransform{
			Stream: func(_ context.Context, _ string, _, _, rawJSON []byte, _ *any) []string {
				return []string{"data: " + string(rawJSON) + "\n\n"}
			},
			NonStream: func(_ context.Context, _ string, _, _, rawJSON []byte, _ *any) string {
				return string(rawJSON)
			},
		},
	)

	require.True(t, NeedConvert("test-from", "test-to"))
	assert.False(t, NeedConvert("test-from", "nowhere"))

	out := Request("test-from", "test-to", "m", []byte(`{}`), false)
	assert.JSONEq(t, `{"converted":true}`, string(out))

	var param any
	chunks := Response("test-from", "test-to", context.Background(), "m", nil, nil, []byte(`{"a":1}`), &param)
	require.Len(t, chunks, 1)
	assert.Equal(t, "data: {\"a\":1}\n\n", chunks[0])
}

func TestIdentityFallback(t *testing.T) {
	raw := []byte(`{"untouched":true}`)

	assert.Equal(t, raw, Request("no-such", "pair", "m", raw, true))

	var param any
	chunks := Response("no-such", "pair", context.Background(), "m", nil, nil, raw, &param)
	require.Len(t, chunks, 1)
	assert.Equal(t, string(raw), chunks[0])

	assert.Equal(t, string(raw), ResponseNonStream("no-such", "pair", context.Background(), "m", nil, nil, raw, &param))
}
