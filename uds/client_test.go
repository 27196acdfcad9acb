package uds

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRequester is an in-memory Requester double scripted with one
// response per Send call, in order.
type fakeRequester struct {
	responses [][]byte
	errs      []error
	sent      [][]byte
	idx       int
}

func (f *fakeRequester) Send(ctx context.Context, payload []byte) error {
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

func (f *fakeRequester) Receive(ctx context.Context) ([]byte, error) {
	i := f.idx
	f.idx++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return nil, nil
}

func TestReadDataByIdentifierPositiveResponse(t *testing.T) {
	fr := &fakeRequester{responses: [][]byte{append([]byte{0x62, 0xF1, 0x90}, []byte("12345678901234567")...)}}
	c := NewClient(fr, DefaultPolicy(), nil)

	data, err := c.ReadDataByIdentifier(context.Background(), 0xF190)
	require.NoError(t, err)
	assert.Equal(t, 17, len(data))
	assert.Equal(t, []byte{0x22, 0xF1, 0x90}, fr.sent[0])
}

func TestReadDataByIdentifierDIDEchoMismatch(t *testing.T) {
	fr := &fakeRequester{responses: [][]byte{{0x62, 0x00, 0x00, 1, 2, 3}}}
	c := NewClient(fr, DefaultPolicy(), nil)

	_, err := c.ReadDataByIdentifier(context.Background(), 0xF190)
	require.Error(t, err)
}

func TestReadDataByIdentifierNegativeResponse(t *testing.T) {
	fr := &fakeRequester{responses: [][]byte{{0x7F, 0x22, 0x31}}}
	c := NewClient(fr, DefaultPolicy(), nil)

	_, err := c.ReadDataByIdentifier(context.Background(), 0x0000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Request out of range")
}

func TestReadDataByIdentifierRetriesOnceOnMalformedResponse(t *testing.T) {
	fr := &fakeRequester{responses: [][]byte{
		{}, // empty response: Protocol error with no nrc, should retry
		append([]byte{0x62, 0xF1, 0x90}, []byte("12345678901234567")...),
	}}
	c := NewClient(fr, DefaultPolicy(), nil)

	data, err := c.ReadDataByIdentifier(context.Background(), 0xF190)
	require.NoError(t, err)
	assert.Equal(t, 17, len(data))
	assert.Equal(t, 2, fr.idx)
}

func TestReadDataByIdentifierDoesNotRetryNRC(t *testing.T) {
	fr := &fakeRequester{responses: [][]byte{
		{0x7F, 0x22, 0x31},
		append([]byte{0x62, 0xF1, 0x90}, []byte("12345678901234567")...),
	}}
	c := NewClient(fr, DefaultPolicy(), nil)

	_, err := c.ReadDataByIdentifier(context.Background(), 0xF190)
	require.Error(t, err)
	assert.Equal(t, 1, fr.idx) // never attempted the second, non-NRC response
}

func TestDiagnosticSessionControlUpdatesSessionKind(t *testing.T) {
	fr := &fakeRequester{responses: [][]byte{{0x50, 0x03, 0x00, 0x32, 0x01, 0xF4}}}
	c := NewClient(fr, DefaultPolicy(), nil)

	_, err := c.DiagnosticSessionControl(context.Background(), SessionExtended)
	require.NoError(t, err)
	assert.Equal(t, SessionExtended, c.SessionKind())
}

func TestSuppressedTesterPresentDoesNotWaitForResponse(t *testing.T) {
	fr := &fakeRequester{}
	c := NewClient(fr, DefaultPolicy(), nil)

	err := c.TesterPresent(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x3E, 0x80}, fr.sent[0])
	assert.Equal(t, 0, fr.idx) // Receive never called
}

func TestPositiveResponseSIDMatchesRequestPlusOffset(t *testing.T) {
	resp, err := classifyResponse(0x22, []byte{0x62, 0xF1, 0x90, 1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xF1, 0x90, 1, 2, 3}, resp)
}

func TestKeepAliveStopsWithinTimeout(t *testing.T) {
	fr := &fakeRequester{}
	c := NewClient(fr, DefaultPolicy(), nil)

	c.StartKeepAlive(context.Background(), 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	c.StopKeepAlive(time.Second)
	assert.NotEmpty(t, fr.sent)
}
