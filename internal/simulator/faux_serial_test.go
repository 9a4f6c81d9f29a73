//go:build linux

// internal/simulator/faux_serial_test.go
package simulator

import (
	"context"
	"io"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newFauxSerial(t *testing.T, input io.Reader, output io.Writer, drain time.Duration) *FauxSerial {
	t.Helper()
	faux, err := NewFauxSerial(input, output, drain, zap.NewNop())
	if err != nil {
		t.Skipf("pseudo terminals unavailable: %v", err)
	}
	return faux
}

func TestFauxSerialRelaysBothWays(t *testing.T) {
	output := &syncBuffer{}
	faux := newFauxSerial(t, strings.NewReader("RING\r\n"), output, 5*time.Second)
	assert.True(t, strings.HasPrefix(faux.Path(), "/dev/pts/"))

	faux.Start(context.Background())
	defer faux.Close()

	device, err := os.OpenFile(faux.Path(), os.O_RDWR|syscall.O_NOCTTY, 0)
	require.NoError(t, err)
	defer device.Close()

	received := make([]byte, len("RING\r\n"))
	require.NoError(t, device.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadFull(device, received)
	require.NoError(t, err)
	assert.Equal(t, "RING\r\n", string(received))

	_, err = device.Write([]byte("ATA\r"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return output.String() == "ATA\r"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(4), faux.Written())
}

func TestFauxSerialStopsAfterDrainTimeout(t *testing.T) {
	faux := newFauxSerial(t, strings.NewReader("x"), nil, 50*time.Millisecond)
	faux.Start(context.Background())

	select {
	case <-faux.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("simulator did not stop after drain timeout")
	}
	assert.NoError(t, faux.Close())
}

func TestFauxSerialStopsOnContextCancel(t *testing.T) {
	faux := newFauxSerial(t, nil, nil, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	faux.Start(ctx)
	cancel()

	select {
	case <-faux.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("simulator did not stop on cancel")
	}
}

func TestMakeRawDisablesEcho(t *testing.T) {
	faux := newFauxSerial(t, nil, nil, time.Hour)
	defer faux.Close()

	device, err := os.OpenFile(faux.Path(), os.O_RDWR|syscall.O_NOCTTY, 0)
	require.NoError(t, err)
	defer device.Close()

	_, err = faux.master.Write([]byte("abc"))
	require.NoError(t, err)

	received := make([]byte, 3)
	require.NoError(t, device.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadFull(device, received)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(received))

	// Nothing echoed back towards the master
	require.NoError(t, faux.master.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	n, _ := faux.master.Read(make([]byte, 8))
	assert.Zero(t, n)
}
