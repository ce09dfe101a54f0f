package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aerobench/sweep-orchestrator/internal/dispatch"
)

// CoordinatorConfig configures the coordinator
type CoordinatorConfig struct {
	Port              int
	Procs             int
	Timeout           time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// ConnectedAgent represents one agent connection
type ConnectedAgent struct {
	ID          string
	Host        string
	MaxSlots    int
	Slots       int
	Conn        *websocket.Conn
	ConnectedAt time.Time
	LastSeen    time.Time
	mu          sync.Mutex
	writeMu     sync.Mutex // protects Conn writes
}

// UpdateSlots updates available slots (thread-safe)
func (a *ConnectedAgent) UpdateSlots(slots int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Slots = slots
}

// DecrementSlots reduces available slots by 1
func (a *ConnectedAgent) DecrementSlots() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Slots > 0 {
		a.Slots--
	}
}

// SetLastSeen records heartbeat activity (thread-safe)
func (a *ConnectedAgent) SetLastSeen(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.LastSeen = t
}

// WriteMessage sends a message on the agent connection (thread-safe)
func (a *ConnectedAgent) WriteMessage(messageType int, data []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.Conn.WriteMessage(messageType, data)
}

// AgentStatus is a point-in-time view of one connected agent
type AgentStatus struct {
	ID             string `json:"id"`
	Host           string `json:"host,omitempty"`
	MaxSlots       int    `json:"max_slots"`
	ActivePoints   int    `json:"active_points"`
	ConnectedSince string `json:"connected_since"`
}

// StatusResponse is the coordinator's /status payload
type StatusResponse struct {
	Agents       []AgentStatus `json:"agents"`
	QueuedPoints int           `json:"queued_points"`
	ActivePoints int           `json:"active_points"`
}

// pointOutcome is what an agent reported back for one point
type pointOutcome struct {
	exitCode   int
	resultYAML string
	errMsg     string
}

// pendingPoint tracks a point waiting for dispatch or completion
type pendingPoint struct {
	id       string
	job      *dispatch.Job
	msg      *PointMessage
	agentID  string // assigned agent (empty while queued)
	resultCh chan pointOutcome

	logMu   sync.Mutex
	logFile *os.File
}

func (p *pendingPoint) appendLog(line string) {
	p.logMu.Lock()
	defer p.logMu.Unlock()
	if p.logFile == nil {
		return
	}
	p.logFile.WriteString(line + "\n")
	p.logFile.Sync()
}

func (p *pendingPoint) closeLog() {
	p.logMu.Lock()
	defer p.logMu.Unlock()
	if p.logFile != nil {
		p.logFile.Close()
		p.logFile = nil
	}
}

// Coordinator accepts agent connections and hands queued points to whichever
// agent has free slots. It satisfies the dispatch Runner interface, so the
// orchestrator drives pool mode exactly like the local and Slurm backends:
// the invocation artifact goes out over the wire, and the streamed log and
// result file land back in the point directory.
type Coordinator struct {
	config   CoordinatorConfig
	upgrader websocket.Upgrader

	server *http.Server

	mu      sync.Mutex
	agents  map[string]*ConnectedAgent
	queue   []*pendingPoint
	pending map[string]*pendingPoint // pointID -> pending point
}

// NewCoordinator creates a new coordinator
func NewCoordinator(config CoordinatorConfig) *Coordinator {
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.HeartbeatTimeout == 0 {
		config.HeartbeatTimeout = 90 * time.Second // Allow missing 2 heartbeats before disconnect
	}

	return &Coordinator{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		agents:  make(map[string]*ConnectedAgent),
		pending: make(map[string]*pendingPoint),
	}
}

// Submit queues one point for the next free agent. The handle is the point ID.
func (c *Coordinator) Submit(ctx context.Context, job *dispatch.Job) (string, error) {
	raw, err := os.ReadFile(filepath.Join(job.Dir, dispatch.InvocationFileName))
	if err != nil {
		return "", fmt.Errorf("reading invocation: %w", err)
	}
	logFile, err := os.Create(job.LogPath)
	if err != nil {
		return "", err
	}

	id := job.Point.String()
	pp := &pendingPoint{
		id:  id,
		job: job,
		msg: &PointMessage{
			PointID:     id,
			Invocation:  string(raw),
			Procs:       c.config.Procs,
			TimeoutSecs: int(c.config.Timeout / time.Second),
		},
		resultCh: make(chan pointOutcome, 1),
		logFile:  logFile,
	}

	c.mu.Lock()
	c.queue = append(c.queue, pp)
	c.pending[id] = pp
	c.mu.Unlock()

	c.tryDispatch()
	return id, nil
}

// Await blocks until the point's agent reports an outcome or the context
// ends. A reported result file is written into the point directory before
// the exit status is judged.
func (c *Coordinator) Await(ctx context.Context, job *dispatch.Job, handle string) error {
	c.mu.Lock()
	pp := c.pending[handle]
	c.mu.Unlock()
	if pp == nil {
		return fmt.Errorf("unknown point %q", handle)
	}

	select {
	case out := <-pp.resultCh:
		if out.errMsg != "" {
			return fmt.Errorf("agent: %s", out.errMsg)
		}
		if out.resultYAML != "" {
			path := filepath.Join(job.Dir, dispatch.ResultFileName)
			if err := os.WriteFile(path, []byte(out.resultYAML), 0o644); err != nil {
				return err
			}
		}
		if out.exitCode != 0 {
			return fmt.Errorf("solver exited with code %d", out.exitCode)
		}
		return nil
	case <-ctx.Done():
		c.abandon(handle)
		return ctx.Err()
	}
}

// tryDispatch hands queued points to agents with free slots
func (c *Coordinator) tryDispatch() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var remaining []*pendingPoint
	for _, pp := range c.queue {
		agent := c.findReadyLocked()
		if agent == nil {
			remaining = append(remaining, pp)
			continue
		}

		agent.DecrementSlots()
		pp.agentID = agent.ID

		data, err := MarshalEnvelope(TypePoint, pp.msg)
		if err == nil {
			err = agent.WriteMessage(websocket.TextMessage, data)
		}
		if err != nil {
			// Send failed, keep queued; the broken connection unregisters itself
			pp.agentID = ""
			remaining = append(remaining, pp)
		}
	}
	c.queue = remaining
}

// findReadyLocked returns the agent with the most free slots. Caller holds c.mu.
func (c *Coordinator) findReadyLocked() *ConnectedAgent {
	var best *ConnectedAgent
	bestSlots := 0
	for _, a := range c.agents {
		a.mu.Lock()
		slots := a.Slots
		a.mu.Unlock()
		if slots > bestSlots {
			best = a
			bestSlots = slots
		}
	}
	return best
}

// complete resolves a pending point with the agent's outcome
func (c *Coordinator) complete(pointID string, out pointOutcome) {
	c.mu.Lock()
	pp, ok := c.pending[pointID]
	if ok {
		delete(c.pending, pointID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	pp.closeLog()
	pp.resultCh <- out
	close(pp.resultCh)
}

// abandon drops a point whose Await context ended. A cancel is sent to the
// assigned agent on a best-effort basis.
func (c *Coordinator) abandon(pointID string) {
	c.mu.Lock()
	pp, ok := c.pending[pointID]
	var agent *ConnectedAgent
	if ok {
		delete(c.pending, pointID)
		var remaining []*pendingPoint
		for _, q := range c.queue {
			if q.id != pointID {
				remaining = append(remaining, q)
			}
		}
		c.queue = remaining
		if pp.agentID != "" {
			agent = c.agents[pp.agentID]
		}
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	pp.closeLog()
	if agent != nil {
		data, err := MarshalEnvelope(TypeCancel, CancelMessage{PointID: pointID})
		if err == nil {
			agent.WriteMessage(websocket.TextMessage, data)
		}
	}
}

// HandleWebSocket handles incoming WebSocket connections from agents
func (c *Coordinator) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[pool] upgrade failed: %v", err)
		return
	}

	go c.handleAgentConnection(conn)
}

func (c *Coordinator) handleAgentConnection(conn *websocket.Conn) {
	var agentID string
	defer func() {
		conn.Close()
		if agentID != "" {
			c.unregister(agentID)
			c.requeueAgentPoints(agentID)
			c.tryDispatch()
			log.Printf("[pool] agent %s disconnected", agentID)
		}
	}()

	// Pongs extend the read deadline; a silent connection times out
	conn.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))
		if agentID != "" {
			if a := c.getAgent(agentID); a != nil {
				a.SetLastSeen(time.Now())
			}
		}
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[pool] read error: %v", err)
			}
			return
		}

		// Extend read deadline on any message received
		conn.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))

		var env EnvelopeRaw
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("[pool] invalid message: %v", err)
			continue
		}

		switch env.Type {
		case TypeRegister:
			var reg RegisterMessage
			if err := json.Unmarshal(env.Payload, &reg); err != nil {
				log.Printf("[pool] invalid register: %v", err)
				continue
			}
			agentID = reg.AgentID
			c.register(&ConnectedAgent{
				ID:       reg.AgentID,
				Host:     reg.Host,
				MaxSlots: reg.Slots,
				Slots:    reg.Slots,
				Conn:     conn,
			})
			c.tryDispatch()
			log.Printf("[pool] agent %s registered (slots=%d)", reg.AgentID, reg.Slots)

		case TypeReady:
			var ready ReadyMessage
			if err := json.Unmarshal(env.Payload, &ready); err != nil {
				log.Printf("[pool] failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			if a := c.getAgent(agentID); a != nil {
				a.UpdateSlots(ready.Slots)
				c.tryDispatch()
			}

		case TypeOutput:
			var output OutputMessage
			if err := json.Unmarshal(env.Payload, &output); err != nil {
				log.Printf("[pool] failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			c.mu.Lock()
			pp := c.pending[output.PointID]
			c.mu.Unlock()
			if pp != nil {
				pp.appendLog(output.Data)
			}

		case TypeResult:
			var result ResultMessage
			if err := json.Unmarshal(env.Payload, &result); err != nil {
				log.Printf("[pool] failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			c.complete(result.PointID, pointOutcome{
				exitCode:   result.ExitCode,
				resultYAML: result.ResultYAML,
			})

		case TypeError:
			var errMsg ErrorMessage
			if err := json.Unmarshal(env.Payload, &errMsg); err != nil {
				log.Printf("[pool] failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			c.complete(errMsg.PointID, pointOutcome{exitCode: -1, errMsg: errMsg.Message})
		}
	}
}

func (c *Coordinator) register(a *ConnectedAgent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a.ConnectedAt = time.Now()
	a.LastSeen = time.Now()
	c.agents[a.ID] = a
}

func (c *Coordinator) unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.agents, id)
}

func (c *Coordinator) getAgent(id string) *ConnectedAgent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agents[id]
}

// requeueAgentPoints puts a disconnected agent's in-flight points back on
// the queue so another agent can pick them up.
func (c *Coordinator) requeueAgentPoints(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pp := range c.pending {
		if pp.agentID != agentID {
			continue
		}
		pp.agentID = ""
		c.queue = append(c.queue, pp)
	}
}

// AgentCount returns the number of connected agents
func (c *Coordinator) AgentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.agents)
}

// QueuedCount returns the number of points waiting for an agent
func (c *Coordinator) QueuedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Agents returns a status snapshot of all connected agents, sorted by ID
func (c *Coordinator) Agents() []AgentStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	statuses := make([]AgentStatus, 0, len(c.agents))
	for _, a := range c.agents {
		a.mu.Lock()
		statuses = append(statuses, AgentStatus{
			ID:             a.ID,
			Host:           a.Host,
			MaxSlots:       a.MaxSlots,
			ActivePoints:   a.MaxSlots - a.Slots,
			ConnectedSince: a.ConnectedAt.Format(time.RFC3339),
		})
		a.mu.Unlock()
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

// HandleStatus returns the current agents and queue depth
func (c *Coordinator) HandleStatus(w http.ResponseWriter, r *http.Request) {
	agents := c.Agents()
	c.mu.Lock()
	queued := len(c.queue)
	active := len(c.pending) - len(c.queue)
	c.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StatusResponse{
		Agents:       agents,
		QueuedPoints: queued,
		ActivePoints: active,
	})
}

// Start starts the coordinator server and blocks until it is closed
func (c *Coordinator) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", c.HandleWebSocket)
	mux.HandleFunc("/status", c.HandleStatus)

	addr := fmt.Sprintf(":%d", c.config.Port)
	c.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go c.heartbeatLoop(ctx)

	log.Printf("[pool] coordinator listening on %s", addr)
	return c.server.ListenAndServe()
}

// Stop stops the coordinator server
func (c *Coordinator) Stop() error {
	if c.server != nil {
		return c.server.Close()
	}
	return nil
}

func (c *Coordinator) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sendHeartbeats()
		}
	}
}

func (c *Coordinator) sendHeartbeats() {
	c.mu.Lock()
	agents := make([]*ConnectedAgent, 0, len(c.agents))
	for _, a := range c.agents {
		agents = append(agents, a)
	}
	c.mu.Unlock()

	for _, a := range agents {
		// Protocol-level ping; the agent's pong extends its read deadline
		a.writeMu.Lock()
		a.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := a.Conn.WriteMessage(websocket.PingMessage, nil)
		a.Conn.SetWriteDeadline(time.Time{})
		a.writeMu.Unlock()

		if err != nil {
			log.Printf("[pool] ping to %s failed: %v", a.ID, err)
			// The read loop notices the closed connection and cleans up
			a.Conn.Close()
		}
	}
}
