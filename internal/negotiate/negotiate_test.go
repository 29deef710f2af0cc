package negotiate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// drive feeds a's output into b and vice versa until both FSMs have
// reported a terminal status, mirroring how substream.Step uses an FSM:
// once ReadWriteVec reports anything other than InProgress, the caller
// transitions away from the FSM and never calls it again (an
// already-terminal FSM only reports NotAvailable with no output — see
// TestFSMAfterDoneReturnsNotAvailable).
func drive(t *testing.T, a, b *FSM) (aOut, bOut Outcome) {
	t.Helper()
	aOut, bOut = Outcome{Status: InProgress}, Outcome{Status: InProgress}
	var toA, toB []byte
	for i := 0; i < 10; i++ {
		if aOut.Status == InProgress {
			out, _, writeA, err := a.ReadWriteVec(toA)
			require.NoError(t, err)
			aOut = out
			toB = writeA
		} else {
			toB = nil
		}
		if bOut.Status == InProgress {
			out, _, writeB, err := b.ReadWriteVec(toB)
			require.NoError(t, err)
			bOut = out
			toA = writeB
		} else {
			toA = nil
		}

		if aOut.Status != InProgress && bOut.Status != InProgress {
			break
		}
	}
	return aOut, bOut
}

func TestNegotiateSuccess(t *testing.T) {
	listener := NewListener([]string{"/proto/a", "/proto/b"})
	dialer := NewDialer("/proto/b")

	outL, outD := drive(t, listener, dialer)
	require.Equal(t, Success, outL.Status)
	require.Equal(t, "/proto/b", outL.Proto)
	require.Equal(t, Success, outD.Status)
	require.Equal(t, "/proto/b", outD.Proto)
}

func TestNegotiateNotAvailable(t *testing.T) {
	listener := NewListener([]string{"/proto/a"})
	dialer := NewDialer("/proto/zzz")

	outL, outD := drive(t, listener, dialer)
	require.Equal(t, NotAvailable, outL.Status)
	require.Equal(t, NotAvailable, outD.Status)
}

func TestDialerSendsHelloImmediately(t *testing.T) {
	dialer := NewDialer("/proto/x")
	_, _, out, err := dialer.ReadWriteVec(nil)
	require.NoError(t, err)
	require.NotEmpty(t, out)
}

func TestListenerProducesNoOutputBeforeFullLine(t *testing.T) {
	listener := NewListener([]string{"/proto/a"})
	_, _, out, err := listener.ReadWriteVec([]byte{0x08}) // declares an 8-byte line, no body yet
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestFSMAfterDoneReturnsNotAvailable(t *testing.T) {
	listener := NewListener([]string{"/proto/a"})
	dialer := NewDialer("/proto/a")
	drive(t, listener, dialer)

	out, n, writeOut, err := listener.ReadWriteVec(nil)
	require.NoError(t, err)
	require.Equal(t, NotAvailable, out.Status)
	require.Equal(t, 0, n)
	require.Nil(t, writeOut)
}
