package pipeline_test

import (
	"encoding/base64"
	"errors"
	"testing"

	"ingest-backend/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelopeBody(t *testing.T, payload string) []byte {
	t.Helper()
	data := base64.StdEncoding.EncodeToString([]byte(payload))
	return []byte(`{"message":{"data":"` + data + `"}}`)
}

func TestDecodeEnvelope(t *testing.T) {
	event, err := pipeline.DecodeEnvelope(envelopeBody(t, `{"bucket":"expected-bucket","name":"2024-01.csv"}`))
	require.NoError(t, err)
	assert.Equal(t, "expected-bucket", event.Bucket)
	assert.Equal(t, "2024-01.csv", event.ObjectName())
}

func TestDecodeEnvelopeAlternateObjectKey(t *testing.T) {
	event, err := pipeline.DecodeEnvelope(envelopeBody(t, `{"bucket":"expected-bucket","objectId":"2024-02.csv"}`))
	require.NoError(t, err)
	assert.Equal(t, "2024-02.csv", event.ObjectName())
}

func TestDecodeEnvelopeMalformed(t *testing.T) {
	for _, body := range [][]byte{nil, {}, []byte("not json"), []byte(`[1,2,3]`)} {
		_, err := pipeline.DecodeEnvelope(body)
		assert.ErrorIs(t, err, pipeline.ErrMalformedEnvelope, "body: %q", body)
	}
}

func TestDecodeEnvelopeMissingPayload(t *testing.T) {
	for _, body := range [][]byte{
		[]byte(`{}`),
		[]byte(`{"message":{}}`),
		[]byte(`{"message":{"data":""}}`),
	} {
		_, err := pipeline.DecodeEnvelope(body)
		assert.ErrorIs(t, err, pipeline.ErrMissingPayload, "body: %s", body)
	}
}

func TestDecodeEnvelopeBadBase64(t *testing.T) {
	_, err := pipeline.DecodeEnvelope([]byte(`{"message":{"data":"!!! not base64 !!!"}}`))

	var decodeErr *pipeline.DecodeError
	require.True(t, errors.As(err, &decodeErr))
}

func TestDecodeEnvelopeBadInnerJson(t *testing.T) {
	_, err := pipeline.DecodeEnvelope(envelopeBody(t, "not json at all"))

	var decodeErr *pipeline.DecodeError
	require.True(t, errors.As(err, &decodeErr))
}
