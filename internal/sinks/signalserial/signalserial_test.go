package signalserial

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Varn1t/traffic-intelligence/internal/traffic"
)

// mockPort records writes in memory.
type mockPort struct {
	buf      bytes.Buffer
	writeErr error
	closed   bool
}

func (p *mockPort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.buf.Write(b)
}

func (p *mockPort) Close() error {
	p.closed = true
	return nil
}

func TestSendPriorityWritesOneJSONLine(t *testing.T) {
	t.Parallel()
	port := &mockPort{}
	sink := NewSink(port)

	issued := time.Unix(1700000000, 0)
	req := traffic.PriorityRequest{
		LaneID:        "northbound-1",
		Extension:     15 * time.Second,
		ReasonTrackID: 42,
		IssuedAt:      issued,
	}
	require.NoError(t, sink.SendPriority(req))
	require.NoError(t, sink.SendPriority(req))

	lines := strings.Split(strings.TrimRight(port.buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	var got frame
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "priority_extension", got.Type)
	assert.Equal(t, "northbound-1", got.LaneID)
	assert.Equal(t, int64(15000), got.ExtensionMs)
	assert.Equal(t, int64(42), got.ReasonTrackID)
	assert.Equal(t, issued.Unix(), got.IssuedAtUnix)

	// Each line parses independently; the controller reads with a line
	// scanner.
	scanner := bufio.NewScanner(&port.buf)
	for scanner.Scan() {
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &frame{}))
	}
	require.NoError(t, scanner.Err())
}

func TestSendPriorityPropagatesWriteErrors(t *testing.T) {
	t.Parallel()
	port := &mockPort{writeErr: errors.New("line unplugged")}
	sink := NewSink(port)

	err := sink.SendPriority(traffic.PriorityRequest{LaneID: "l1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "l1")
}

func TestCloseClosesPort(t *testing.T) {
	t.Parallel()
	port := &mockPort{}
	sink := NewSink(port)
	require.NoError(t, sink.Close())
	assert.True(t, port.closed)
}
