//go:build linux

package actuator

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"
	"golang.org/x/sys/unix"
)

// Frame layout of the actuator nodes on the bus.
const (
	commandBaseID  uint32 = 0x200 // + node, controller -> actuator
	feedbackBaseID uint32 = 0x280 // + node, actuator -> controller
	feedbackMask   uint32 = 0x780

	maxNode = 0x7F

	// latest commands are republished this often as a heartbeat
	publishInterval = 10 * time.Millisecond
	// feedback older than this is reported as an error
	feedbackTimeout = 100 * time.Millisecond

	commandQueueSize = 64
)

// Command modes, byte 0 of a command frame.
const (
	cmdStop byte = iota
	cmdVelocity
	cmdPosition
	cmdNeutral
	cmdReferenceFrame
)

var (
	// command frames: mode in byte 0, neutral mode in byte 1, setpoint in bytes 2..5
	canSignalSetpoint = canSignal{scalar: 1e-4, start: 16, length: 32, signed: true}

	// feedback frames
	canSignalVelocity = canSignal{scalar: 1e-4, start: 0, length: 32, signed: true}
	canSignalPosition = canSignal{scalar: 1e-4, start: 32, length: 32, signed: true}
)

// frameSocket is the part of a canbus.Socket the bus uses.
type frameSocket interface {
	Send(frame canbus.Frame) (int, error)
	Recv() (canbus.Frame, error)
	Close() error
}

type nodeFeedback struct {
	velocity float64
	position float64
	stamp    time.Time
}

// CANBus multiplexes actuator nodes over one SocketCAN channel. Commands are
// queued to a publish thread that keeps resending the latest control command
// of every node; a receive thread decodes feedback frames into a cache.
type CANBus struct {
	logger logging.Logger
	clk    clock.Clock

	nextCommandCh chan canbus.Frame
	sendSocket    frameSocket
	recvSocket    frameSocket

	mu       sync.RWMutex
	feedback map[uint8]nodeFeedback

	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewCANBus opens the given SocketCAN channel, e.g. "can0".
func NewCANBus(channel string, logger logging.Logger) (*CANBus, error) {
	socketSend, err := canbus.New()
	if err != nil {
		return nil, err
	}
	if err := socketSend.Bind(channel); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "binding %s", channel), socketSend.Close())
	}

	socketRecv, err := canbus.New()
	if err != nil {
		return nil, multierr.Combine(err, socketSend.Close())
	}
	err = socketRecv.SetFilters([]unix.CanFilter{
		{Id: feedbackBaseID, Mask: feedbackMask},
	})
	if err == nil {
		err = errors.Wrapf(socketRecv.Bind(channel), "binding %s", channel)
	}
	if err != nil {
		return nil, multierr.Combine(err, socketRecv.Close(), socketSend.Close())
	}

	return newCANBus(socketSend, socketRecv, clock.New(), logger), nil
}

func newCANBus(send, recv frameSocket, clk clock.Clock, logger logging.Logger) *CANBus {
	cancelCtx, cancel := context.WithCancel(context.Background())
	bus := &CANBus{
		logger:        logger,
		clk:           clk,
		nextCommandCh: make(chan canbus.Frame, commandQueueSize),
		sendSocket:    send,
		recvSocket:    recv,
		feedback:      map[uint8]nodeFeedback{},
		cancel:        cancel,
	}
	bus.activeBackgroundWorkers.Add(2)
	viamutils.ManagedGo(func() {
		bus.publishThread(cancelCtx)
	}, bus.activeBackgroundWorkers.Done)
	viamutils.ManagedGo(func() {
		bus.receiveThread(cancelCtx)
	}, bus.activeBackgroundWorkers.Done)
	return bus
}

// Actuator returns the actuator with the given node id.
func (b *CANBus) Actuator(node uint8) *CAN {
	return &CAN{bus: b, node: node & maxNode}
}

// Close stops the worker threads and closes the sockets.
func (b *CANBus) Close() error {
	b.cancel()
	// unblocks Recv
	err := b.recvSocket.Close()
	b.activeBackgroundWorkers.Wait()
	return err
}

// publishThread sends queued frames and republishes the latest control
// command of every node each publishInterval.
func (b *CANBus) publishThread(ctx context.Context) {
	defer func() {
		if err := b.sendSocket.Close(); err != nil {
			b.logger.Debugw("closing CAN send socket", "error", err)
		}
	}()

	latest := map[uint32]canbus.Frame{}
	ticker := b.clk.Ticker(publishInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case frame := <-b.nextCommandCh:
			switch frame.Data[0] {
			case cmdStop, cmdVelocity, cmdPosition:
				// control commands replace the node's heartbeat frame
				latest[frame.ID] = frame
			}
			if _, err := b.sendSocket.Send(frame); err != nil {
				b.logger.Errorw("CAN command send error", "id", frame.ID, "error", err)
			}
		case <-ticker.C:
			for id, frame := range latest {
				if _, err := b.sendSocket.Send(frame); err != nil {
					b.logger.Errorw("CAN heartbeat send error", "id", id, "error", err)
				}
			}
		}
	}
}

// receiveThread decodes feedback frames until the socket is closed.
func (b *CANBus) receiveThread(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := b.recvSocket.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Errorw("CAN Rx error", "error", err)
			if !viamutils.SelectContextOrWait(ctx, publishInterval) {
				return
			}
			continue
		}

		if frame.ID&^maxNode != feedbackBaseID {
			continue
		}
		fb := nodeFeedback{
			velocity: canSignalVelocity.extract(frame.Data),
			position: canSignalPosition.extract(frame.Data),
			stamp:    b.clk.Now(),
		}
		b.mu.Lock()
		b.feedback[uint8(frame.ID&maxNode)] = fb
		b.mu.Unlock()
	}
}

func (b *CANBus) send(ctx context.Context, node uint8, mode byte, neutral NeutralMode, setpoint float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame := canbus.Frame{
		ID:   commandBaseID + uint32(node),
		Data: make([]byte, 8),
		Kind: canbus.SFF,
	}
	frame.Data[0] = mode
	frame.Data[1] = byte(neutral)
	canSignalSetpoint.insert(frame.Data, setpoint)

	select {
	case b.nextCommandCh <- frame:
		return nil
	default:
		return errors.Errorf("CAN command queue full, dropped command for node %d", node)
	}
}

func (b *CANBus) nodeFeedback(node uint8) (nodeFeedback, error) {
	b.mu.RLock()
	fb, ok := b.feedback[node]
	b.mu.RUnlock()
	if !ok {
		return nodeFeedback{}, errors.Errorf("no feedback received from node %d", node)
	}
	if age := b.clk.Since(fb.stamp); age > feedbackTimeout {
		return fb, errors.Errorf("feedback from node %d is stale (%v old)", node, age)
	}
	return fb, nil
}

// CAN is one actuator node on a CANBus.
type CAN struct {
	bus  *CANBus
	node uint8

	mu      sync.Mutex
	neutral NeutralMode
}

func (a *CAN) neutralMode() NeutralMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.neutral
}

// SetVelocityReference implements Actuator.
func (a *CAN) SetVelocityReference(ctx context.Context, revsPerSec float64) error {
	return a.bus.send(ctx, a.node, cmdVelocity, a.neutralMode(), revsPerSec)
}

// SetPositionReference implements Actuator.
func (a *CAN) SetPositionReference(ctx context.Context, revs float64) error {
	return a.bus.send(ctx, a.node, cmdPosition, a.neutralMode(), revs)
}

// VelocityFeedback implements Actuator.
func (a *CAN) VelocityFeedback(ctx context.Context) (float64, error) {
	fb, err := a.bus.nodeFeedback(a.node)
	return fb.velocity, err
}

// PositionFeedback implements Actuator.
func (a *CAN) PositionFeedback(ctx context.Context) (float64, error) {
	fb, err := a.bus.nodeFeedback(a.node)
	return fb.position, err
}

// Stop implements Actuator.
func (a *CAN) Stop(ctx context.Context) error {
	return a.bus.send(ctx, a.node, cmdStop, a.neutralMode(), 0)
}

// SetNeutralMode implements Actuator.
func (a *CAN) SetNeutralMode(ctx context.Context, mode NeutralMode) error {
	a.mu.Lock()
	a.neutral = mode
	a.mu.Unlock()
	return a.bus.send(ctx, a.node, cmdNeutral, mode, 0)
}

// SetReferenceFrame implements Actuator.
func (a *CAN) SetReferenceFrame(ctx context.Context, revs float64) error {
	return a.bus.send(ctx, a.node, cmdReferenceFrame, a.neutralMode(), revs)
}
