package client

import (
	"bufio"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPumpSSEStripsFraming(t *testing.T) {
	stream := io.NopCloser(strings.NewReader(
		"event: message_start\n" +
			"data: {\"type\":\"message_start\"}\n" +
			"\n" +
			": keep-alive\n" +
			"data: {\"type\":\"content_block_delta\"}\n" +
			"\n" +
			"data: [DONE]\n" +
			"\n"))

	dataChan := make(chan []byte, 8)
	errChan := make(chan *ErrorMessage, 1)
	pumpSSE(stream, dataChan, errChan)
	close(dataChan)
	close(errChan)

	var payloads []string
	for payload := range dataChan {
		payloads = append(payloads, string(payload))
	}
	assert.Equal(t, []string{
		`{"type":"message_start"}`,
		`{"type":"content_block_delta"}`,
		"[DONE]",
	}, payloads)
	assert.Nil(t, <-errChan)
}

func TestWarpEnvelopeRoundTrip(t *testing.T) {
	payload := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)
	envelope := encodeEnvelope("gpt-5", payload)

	decoded, err := decodeEnvelope(envelope)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestWarpReadFrame(t *testing.T) {
	inner := encodeEnvelope("gpt-5", []byte(`{"delta":"x"}`))
	framed := append([]byte{byte(len(inner))}, inner...)
	framed = append(framed, byte(len(inner)))
	framed = append(framed, inner...)

	reader := bufio.NewReader(strings.NewReader(string(framed)))

	first, err := readFrame(reader)
	require.NoError(t, err)
	assert.Equal(t, inner, first)

	second, err := readFrame(reader)
	require.NoError(t, err)
	assert.Equal(t, inner, second)

	_, err = readFrame(reader)
	assert.Equal(t, io.EOF, err)
}

func TestTokenFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qwen-test.json")
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	require.NoError(t, SaveTokenFile(path, &TokenFile{
		AccessToken:  "tok-abc",
		RefreshToken: "ref-def",
		Email:        "dev@example.com",
		ExpiresAt:    expires,
	}))

	loaded, err := LoadTokenFile(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", loaded.AccessToken)
	assert.Equal(t, "ref-def", loaded.RefreshToken)
	assert.True(t, loaded.ExpiresAt.Equal(expires))
	assert.False(t, loaded.NearExpiry(30*time.Second))
}

func TestTokenFileNearExpiry(t *testing.T) {
	assert.True(t, (&TokenFile{}).NearExpiry(time.Second), "zero expiry is treated as expired")
	assert.True(t, (&TokenFile{ExpiresAt: time.Now().Add(10 * time.Second)}).NearExpiry(30*time.Second))
	assert.False(t, (&TokenFile{ExpiresAt: time.Now().Add(time.Hour)}).NearExpiry(30*time.Second))
}

func TestErrorMessage(t *testing.T) {
	errMsg := &ErrorMessage{StatusCode: 429, Err: io.ErrUnexpectedEOF}
	assert.Equal(t, 429, errMsg.HTTPStatus())
	assert.Equal(t, io.ErrUnexpectedEOF.Error(), errMsg.Error())

	bare := &ErrorMessage{StatusCode: 502}
	assert.Contains(t, bare.Error(), "502")
}
