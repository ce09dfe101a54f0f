package pool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/aerobench/sweep-orchestrator/internal/dispatch"
)

// Backoff constants for reconnection
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2
)

// reconnectDelay returns the delay for a given attempt number using
// exponential backoff
func reconnectDelay(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= backoffFactor
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// pingWait is how long the agent waits for a coordinator ping before the
// connection times out
const pingWait = 90 * time.Second

// writeWait is the time allowed to write a control message
const writeWait = 10 * time.Second

// AgentConfig configures the agent client
type AgentConfig struct {
	Endpoints []string
	AgentID   string
	Host      string
	SolverCmd string
	MPIRun    string
	WorkDir   string
	Slots     int
}

// Validate checks the config is valid
func (c *AgentConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one coordinator endpoint is required")
	}
	if c.SolverCmd == "" {
		return fmt.Errorf("solver_cmd is required")
	}
	if c.Slots <= 0 {
		return fmt.Errorf("slots must be positive")
	}
	return nil
}

// slotPool tracks free computation slots shared across all endpoint
// connections of one agent, so the machine's total load stays bounded no
// matter how many coordinators hand it work.
type slotPool struct {
	max       int
	available int
	mu        sync.Mutex
	onChange  func(available int)
}

func newSlotPool(max int) *slotPool {
	return &slotPool{max: max, available: max}
}

func (p *slotPool) setOnChange(fn func(available int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// acquire tries to claim a slot. Returns true if successful.
func (p *slotPool) acquire() bool {
	p.mu.Lock()
	if p.available <= 0 {
		p.mu.Unlock()
		return false
	}
	p.available--
	fn := p.onChange
	n := p.available
	p.mu.Unlock()

	// Notify outside of the lock to avoid deadlock
	if fn != nil {
		fn(n)
	}
	return true
}

// release returns a slot to the pool
func (p *slotPool) release() {
	p.mu.Lock()
	if p.available < p.max {
		p.available++
	}
	fn := p.onChange
	n := p.available
	p.mu.Unlock()

	if fn != nil {
		fn(n)
	}
}

func (p *slotPool) availableSlots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// endpointConn is one coordinator connection with serialized writes
type endpointConn struct {
	url  string
	mu   sync.Mutex
	conn *websocket.Conn
}

func (e *endpointConn) setConn(c *websocket.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conn = c
}

func (e *endpointConn) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
}

func (e *endpointConn) send(msgType string, payload interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return fmt.Errorf("not connected to %s", e.url)
	}
	data, err := MarshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	return e.conn.WriteMessage(websocket.TextMessage, data)
}

// Agent is the worker side of the compute pool. It dials every configured
// coordinator, announces its slot count and executes assigned points with
// the solver installed on its own machine.
type Agent struct {
	config AgentConfig
	slots  *slotPool

	ctx    context.Context
	cancel context.CancelFunc

	connsMu sync.Mutex
	conns   []*endpointConn

	// Point tracking for cancellation
	pointsMu sync.Mutex
	points   map[string]context.CancelFunc
}

// NewAgent creates a new agent client
func NewAgent(config AgentConfig) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Host == "" {
		config.Host, _ = os.Hostname()
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &Agent{
		config: config,
		slots:  newSlotPool(config.Slots),
		ctx:    ctx,
		cancel: cancel,
		points: make(map[string]context.CancelFunc),
	}
	a.slots.setOnChange(func(int) { a.broadcastReady() })
	return a, nil
}

// AvailableSlots returns the number of free slots
func (a *Agent) AvailableSlots() int {
	return a.slots.availableSlots()
}

// Run serves all configured coordinators until Stop is called. Each endpoint
// loop reconnects independently with exponential backoff.
func (a *Agent) Run() error {
	g, ctx := errgroup.WithContext(a.ctx)

	for _, url := range a.config.Endpoints {
		ec := &endpointConn{url: url}
		a.connsMu.Lock()
		a.conns = append(a.conns, ec)
		a.connsMu.Unlock()

		g.Go(func() error {
			return a.serveEndpoint(ctx, ec)
		})
	}

	return g.Wait()
}

// Stop gracefully shuts down the agent
func (a *Agent) Stop() {
	a.cancel()
	a.connsMu.Lock()
	defer a.connsMu.Unlock()
	for _, ec := range a.conns {
		ec.close()
	}
}

func (a *Agent) serveEndpoint(ctx context.Context, ec *endpointConn) error {
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn, err := a.dial(ec)
		if err != nil {
			delay := reconnectDelay(attempt)
			log.Printf("[agent] %s: connect failed: %v, retrying in %v", ec.url, err, delay)
			attempt++

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
				continue
			}
		}

		// Connected - reset backoff
		attempt = 0
		log.Printf("[agent] connected to %s", ec.url)

		err = a.readLoop(ctx, ec, conn)
		ec.close()
		if err != nil && ctx.Err() == nil {
			log.Printf("[agent] %s: disconnected: %v", ec.url, err)
		}

		select {
		case <-ctx.Done():
			return nil
		default:
			// Will reconnect
		}
	}
}

func (a *Agent) dial(ec *endpointConn) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(ec.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	// Coordinator pings extend the read deadline. Overriding the default
	// ping handler means the pong reply is ours to send.
	conn.SetReadDeadline(time.Now().Add(pingWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pingWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	ec.setConn(conn)

	if err := ec.send(TypeRegister, RegisterMessage{
		AgentID: a.config.AgentID,
		Host:    a.config.Host,
		Slots:   a.slots.availableSlots(),
	}); err != nil {
		ec.close()
		return nil, err
	}

	return conn, nil
}

func (a *Agent) readLoop(ctx context.Context, ec *endpointConn, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		// Extend read deadline on any message received
		conn.SetReadDeadline(time.Now().Add(pingWait))

		var env EnvelopeRaw
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("[agent] invalid message: %v", err)
			continue
		}

		switch env.Type {
		case TypePoint:
			var pt PointMessage
			if err := json.Unmarshal(env.Payload, &pt); err != nil {
				log.Printf("[agent] invalid point message: %v", err)
				continue
			}
			go a.handlePoint(ec, pt)

		case TypeCancel:
			var cancel CancelMessage
			if err := json.Unmarshal(env.Payload, &cancel); err != nil {
				log.Printf("[agent] invalid cancel message: %v", err)
				continue
			}
			log.Printf("[agent] cancelling %s", cancel.PointID)
			a.cancelPoint(cancel.PointID)
		}
	}
}

// broadcastReady announces the current slot count to every coordinator
func (a *Agent) broadcastReady() {
	a.connsMu.Lock()
	conns := make([]*endpointConn, len(a.conns))
	copy(conns, a.conns)
	a.connsMu.Unlock()

	slots := a.slots.availableSlots()
	for _, ec := range conns {
		// Disconnected endpoints miss this update; they re-register with the
		// current count on reconnect
		ec.send(TypeReady, ReadyMessage{Slots: slots})
	}
}

func (a *Agent) handlePoint(ec *endpointConn, msg PointMessage) {
	if !a.slots.acquire() {
		ec.send(TypeError, ErrorMessage{PointID: msg.PointID, Message: "no slots available"})
		return
	}
	defer func() {
		a.untrackPoint(msg.PointID)
		a.slots.release()
	}()

	var runCtx context.Context
	var cancel context.CancelFunc
	if msg.TimeoutSecs > 0 {
		runCtx, cancel = context.WithTimeout(a.ctx, time.Duration(msg.TimeoutSecs)*time.Second)
	} else {
		runCtx, cancel = context.WithCancel(a.ctx)
	}
	defer cancel()
	a.trackPoint(msg.PointID, cancel)

	log.Printf("[agent] running %s", msg.PointID)
	start := time.Now()
	result, err := a.executePoint(runCtx, msg, func(line string) {
		ec.send(TypeOutput, OutputMessage{PointID: msg.PointID, Data: line})
	})
	if err != nil {
		ec.send(TypeError, ErrorMessage{PointID: msg.PointID, Message: err.Error()})
		return
	}

	result.DurationMs = time.Since(start).Milliseconds()
	ec.send(TypeResult, *result)
}

// executePoint runs the solver in a scratch directory. Mesh and restart
// paths inside the invocation must resolve on this host; the solver leaves
// its result file in the working directory and that file travels back whole.
func (a *Agent) executePoint(ctx context.Context, msg PointMessage, onLine func(string)) (*ResultMessage, error) {
	dir := filepath.Join(a.config.WorkDir, scratchName(msg.PointID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	invPath := filepath.Join(dir, dispatch.InvocationFileName)
	if err := os.WriteFile(invPath, []byte(msg.Invocation), 0o644); err != nil {
		return nil, err
	}

	args := []string{a.config.SolverCmd, "--input", dispatch.InvocationFileName}
	if msg.Procs > 1 && a.config.MPIRun != "" {
		args = append([]string{a.config.MPIRun, "-np", strconv.Itoa(msg.Procs)}, args...)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go streamLines(stdout, onLine, &wg)
	go streamLines(stderr, onLine, &wg)
	wg.Wait()

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, err
		}
	}

	result := &ResultMessage{PointID: msg.PointID, ExitCode: exitCode}
	if raw, err := os.ReadFile(filepath.Join(dir, dispatch.ResultFileName)); err == nil {
		result.ResultYAML = string(raw)
	}
	return result, nil
}

func streamLines(r io.Reader, onLine func(string), wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
}

func scratchName(pointID string) string {
	return strings.ReplaceAll(pointID, "/", "_")
}

// trackPoint registers a point's cancel function for later cancellation
func (a *Agent) trackPoint(pointID string, cancel context.CancelFunc) {
	a.pointsMu.Lock()
	defer a.pointsMu.Unlock()
	a.points[pointID] = cancel
}

// untrackPoint removes a point from tracking
func (a *Agent) untrackPoint(pointID string) {
	a.pointsMu.Lock()
	defer a.pointsMu.Unlock()
	delete(a.points, pointID)
}

// HasPoint checks if a point is currently tracked
func (a *Agent) HasPoint(pointID string) bool {
	a.pointsMu.Lock()
	defer a.pointsMu.Unlock()
	_, ok := a.points[pointID]
	return ok
}

// cancelPoint cancels a running point
func (a *Agent) cancelPoint(pointID string) {
	a.pointsMu.Lock()
	cancel, ok := a.points[pointID]
	if ok {
		delete(a.points, pointID)
	}
	a.pointsMu.Unlock()

	if ok && cancel != nil {
		cancel()
	}
}
