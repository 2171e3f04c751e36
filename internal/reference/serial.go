package reference

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/serial"

	"github.com/pressbench/pressbench-core/internal/infrastructure/config"
)

// Instrument command vocabulary. The controller speaks a SCPI-flavoured
// line protocol: commands are CRLF-terminated, queries end in '?' and
// return one line.
const (
	cmdQueryIdentity = "*IDN?"
	cmdQueryOutput   = "OUTP?"
	cmdEnableOutput  = "OUTP 1"
	cmdSetPressure   = "SOUR:PRES %.3f" // pressure units
	cmdQueryAtTarget = "STAT:OPER:COND?"
	responseAtTarget = "1"
	responseOutputOn = "1"
	lineTerminator   = "\r\n"
)

// Logger is the optional logging surface for the serial client.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// SerialController implements Controller over a serial line.
//
// Commands are serialized with a mutex: the instrument answers one query at
// a time and interleaved writes corrupt its input buffer.
type SerialController struct {
	mu     sync.Mutex
	port   io.ReadWriteCloser
	reader *bufio.Reader
	cfg    config.ReferenceConfig
	logger Logger
}

// Open connects to the reference controller on the configured serial port
// and verifies it answers an identity query.
func Open(cfg config.ReferenceConfig, logger Logger) (*SerialController, error) {
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Port,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.GetReadTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrControllerFailure, cfg.Port, err)
	}

	c := newSerialController(port, cfg, logger)

	identity, err := c.query(cmdQueryIdentity)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: identity query: %w", ErrControllerFailure, err)
	}
	c.logger.Debug("reference controller connected", "port", cfg.Port, "identity", identity)

	return c, nil
}

// newSerialController wires a controller around any read/write stream.
// Split out from Open so tests can inject an in-memory port.
func newSerialController(port io.ReadWriteCloser, cfg config.ReferenceConfig, logger Logger) *SerialController {
	if logger == nil {
		logger = nopLogger{}
	}
	return &SerialController{
		port:   port,
		reader: bufio.NewReader(port),
		cfg:    cfg,
		logger: logger,
	}
}

// Close releases the serial port.
func (c *SerialController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port.Close()
}

// EnsurePrerequisites checks the controller output is enabled, switching it
// on if the instrument reports it off.
func (c *SerialController) EnsurePrerequisites(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrControllerFailure, err)
	}

	state, err := c.query(cmdQueryOutput)
	if err != nil {
		return fmt.Errorf("%w: output query: %w", ErrControllerFailure, err)
	}

	if state == responseOutputOn {
		return nil
	}

	c.logger.Debug("enabling reference controller output")
	if err := c.send(cmdEnableOutput); err != nil {
		return fmt.Errorf("%w: enabling output: %w", ErrControllerFailure, err)
	}

	// Re-query rather than trusting the write: the instrument rejects the
	// enable silently when interlocks are open.
	state, err = c.query(cmdQueryOutput)
	if err != nil {
		return fmt.Errorf("%w: output query after enable: %w", ErrControllerFailure, err)
	}
	if state != responseOutputOn {
		return fmt.Errorf("%w: output did not enable (state %q)", ErrNotReady, state)
	}

	return nil
}

// SetPressure commands a setpoint.
func (c *SerialController) SetPressure(ctx context.Context, value float64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrControllerFailure, err)
	}

	if err := c.send(fmt.Sprintf(cmdSetPressure, value)); err != nil {
		return fmt.Errorf("%w: setting pressure %.3f: %w", ErrControllerFailure, value, err)
	}

	c.logger.Debug("reference setpoint commanded", "pressure", value)
	return nil
}

// WaitUntilAtTarget polls the operation-condition register until the
// controller reports it has settled at the setpoint.
func (c *SerialController) WaitUntilAtTarget(ctx context.Context) error {
	deadline := time.Now().Add(c.cfg.GetTargetTimeout())
	ticker := time.NewTicker(c.cfg.GetPollInterval())
	defer ticker.Stop()

	for {
		state, err := c.query(cmdQueryAtTarget)
		if err != nil {
			return fmt.Errorf("%w: at-target query: %w", ErrControllerFailure, err)
		}
		if state == responseAtTarget {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: after %v", ErrTargetTimeout, c.cfg.GetTargetTimeout())
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrControllerFailure, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Vent commands zero pressure and waits best-effort for arrival.
//
// Errors are returned but callers treat venting as fire-and-forget: it runs
// in terminal cleanup paths where there is nothing left to abort.
func (c *SerialController) Vent(ctx context.Context) error {
	if err := c.send(fmt.Sprintf(cmdSetPressure, 0.0)); err != nil {
		return fmt.Errorf("%w: venting: %w", ErrControllerFailure, err)
	}
	return c.WaitUntilAtTarget(ctx)
}

// send writes one command line without expecting a response.
func (c *SerialController) send(command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLine(command)
}

// query writes one command line and reads the single response line.
func (c *SerialController) query(command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLine(command); err != nil {
		return "", err
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading response to %q: %w", command, err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

func (c *SerialController) writeLine(command string) error {
	if _, err := c.port.Write([]byte(command + lineTerminator)); err != nil {
		return fmt.Errorf("writing %q: %w", command, err)
	}
	return nil
}
