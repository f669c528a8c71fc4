//go:build linux

package actuator

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"
)

type fakeSocket struct {
	sent chan canbus.Frame
	recv chan canbus.Frame
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		sent: make(chan canbus.Frame, 256),
		recv: make(chan canbus.Frame),
	}
}

func (s *fakeSocket) Send(frame canbus.Frame) (int, error) {
	select {
	case s.sent <- frame:
	default:
	}
	return len(frame.Data), nil
}

func (s *fakeSocket) Recv() (canbus.Frame, error) {
	frame, ok := <-s.recv
	if !ok {
		return canbus.Frame{}, errors.New("socket closed")
	}
	return frame, nil
}

func (s *fakeSocket) Close() error {
	return nil
}

func TestCANCommands(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	send, recv := newFakeSocket(), newFakeSocket()
	bus := newCANBus(send, recv, clk, logging.NewTestLogger(t))
	defer func() {
		close(recv.recv)
		test.That(t, bus.Close(), test.ShouldBeNil)
	}()

	a := bus.Actuator(3)
	test.That(t, a.SetNeutralMode(ctx, NeutralBrake), test.ShouldBeNil)
	test.That(t, a.SetVelocityReference(ctx, -2.5), test.ShouldBeNil)

	frame := <-send.sent
	test.That(t, frame.ID, test.ShouldEqual, uint32(0x203))
	test.That(t, frame.Data[0], test.ShouldEqual, cmdNeutral)
	test.That(t, frame.Data[1], test.ShouldEqual, byte(NeutralBrake))

	frame = <-send.sent
	test.That(t, frame.Data[0], test.ShouldEqual, cmdVelocity)
	test.That(t, frame.Data[1], test.ShouldEqual, byte(NeutralBrake))
	test.That(t, canSignalSetpoint.extract(frame.Data), test.ShouldAlmostEqual, -2.5, 1e-9)

	// the velocity command is republished, the neutral command is not
	clk.Add(publishInterval)
	frame = <-send.sent
	test.That(t, frame.Data[0], test.ShouldEqual, cmdVelocity)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	test.That(t, a.Stop(cancelled), test.ShouldNotBeNil)
}

func TestCANFeedback(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	send, recv := newFakeSocket(), newFakeSocket()
	bus := newCANBus(send, recv, clk, logging.NewTestLogger(t))
	defer func() {
		close(recv.recv)
		test.That(t, bus.Close(), test.ShouldBeNil)
	}()

	a := bus.Actuator(5)
	_, err := a.PositionFeedback(ctx)
	test.That(t, err, test.ShouldNotBeNil)

	data := make([]byte, 8)
	canSignalVelocity.insert(data, 1.5)
	canSignalPosition.insert(data, -7.25)
	// another node's feedback and a command frame are both ignored
	recv.recv <- canbus.Frame{ID: feedbackBaseID + 6, Data: make([]byte, 8)}
	recv.recv <- canbus.Frame{ID: commandBaseID + 5, Data: make([]byte, 8)}
	recv.recv <- canbus.Frame{ID: feedbackBaseID + 5, Data: data}

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		pos, err := a.PositionFeedback(ctx)
		test.That(tb, err, test.ShouldBeNil)
		test.That(tb, pos, test.ShouldAlmostEqual, -7.25, 1e-9)
	})
	vel, err := a.VelocityFeedback(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vel, test.ShouldAlmostEqual, 1.5, 1e-9)

	clk.Add(feedbackTimeout + time.Millisecond)
	_, err = a.VelocityFeedback(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "stale")
}
