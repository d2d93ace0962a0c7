// Package kernel wires the server together: database, actor runtime, effect
// executors, websocket hub, event log, and recovery from the store. It is the
// single place that knows the startup and shutdown order.
package kernel

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"salon/pkg/broadcast"
	"salon/pkg/config"
	"salon/pkg/dispatch"
	"salon/pkg/effect"
	"salon/pkg/eventlog"
	"salon/pkg/interp"
	"salon/pkg/llm"
	"salon/pkg/logx"
	"salon/pkg/metrics"
	"salon/pkg/persistence"
	"salon/pkg/proto"
	"salon/pkg/tools"
)

// Kernel owns the shared infrastructure. Construction builds everything but
// starts nothing; Start brings services up in dependency order and Stop tears
// them down in reverse.
type Kernel struct {
	ctx    context.Context //nolint:containedctx // kernel lifecycle root
	cancel context.CancelFunc

	Config *config.Config
	Logger *logx.Logger

	Runtime  *dispatch.Runtime
	Hub      *broadcast.Hub
	Metrics  *metrics.Recorder
	Registry *tools.Registry

	Database *sql.DB
	Ops      *persistence.DatabaseOperations

	llmExec   *llm.Executor
	toolsExec *tools.Executor
	eventLog  *eventlog.Writer

	sessionID string
	startedAt int64
	running   bool
}

// New builds a kernel from configuration. The database is opened and the
// schema applied here; nothing else touches disk until Start.
func New(parent context.Context, cfg *config.Config) (*Kernel, error) {
	ctx, cancel := context.WithCancel(parent)

	k := &Kernel{
		ctx:       ctx,
		cancel:    cancel,
		Config:    cfg,
		Logger:    logx.NewLogger("kernel"),
		sessionID: uuid.NewString(),
	}

	if err := k.initialize(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize kernel: %w", err)
	}
	return k, nil
}

func (k *Kernel) initialize() error {
	for _, dir := range []string{k.Config.DataDir, k.Config.WorkspaceDir, k.Config.SharedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	dbPath := filepath.Join(k.Config.DataDir, "salon.db")
	if err := persistence.Initialize(dbPath, k.sessionID); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	k.Database = persistence.GetDB()
	k.Ops = persistence.Ops()

	var err error
	k.eventLog, err = eventlog.NewWriter(k.Config.LogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize event log: %w", err)
	}

	k.Metrics = metrics.NewRecorder()
	k.Hub = broadcast.NewHub()
	k.Hub.Metrics = k.Metrics

	k.Registry = tools.NewRegistry()
	for _, tool := range []tools.Tool{
		tools.NewBashTool(),
		tools.NewEditorTool(k.Config.SharedDir),
		tools.NewMemoryTool(k.Ops),
	} {
		if err := k.Registry.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool: %w", err)
		}
	}

	k.Runtime = dispatch.NewRuntime(dispatch.Options{
		Workers:       k.Config.Workers,
		SchedulerTick: k.Config.SchedulerTick,
		Interp:        k.interpParams(),
		Metrics:       k.Metrics,
		Trace:         k.traceEnvelope,
	})

	k.llmExec = llm.NewExecutor(llm.NewClient(k.Config.APIKey), k.Runtime.Send)
	k.llmExec.Metrics = k.Metrics
	k.toolsExec = tools.NewExecutor(k.Registry, k.Runtime.Send, k.Config.WorkspaceDir)
	k.toolsExec.Metrics = k.Metrics

	k.Runtime.RegisterExecutor(effect.CategoryPersist, persistence.NewExecutor(k.Ops, k.Runtime.Send))
	k.Runtime.RegisterExecutor(effect.CategoryLLM, k.llmExec)
	k.Runtime.RegisterExecutor(effect.CategoryTool, k.toolsExec)
	k.Runtime.RegisterExecutor(effect.CategoryBroadcast, k.Hub)

	k.Logger.Info("kernel initialized (session %s)", k.sessionID)
	return nil
}

func (k *Kernel) interpParams() interp.Params {
	p := interp.DefaultParams()
	p.ResponderThreshold = k.Config.ResponderThreshold
	p.ResponderFanOut = k.Config.ResponderFanOut
	p.ContextWindow = k.Config.ContextWindow
	p.ResponseTimeoutMs = k.Config.ResponseTimeout.Milliseconds()
	p.RoomTickMs = k.Config.RoomTickInterval.Milliseconds()
	p.MaxToolCalls = k.Config.MaxToolCalls
	p.MaxAttempts = k.Config.MaxAttempts
	p.MaxTokens = k.Config.MaxTokens
	p.MaxContextTokens = k.Config.MaxContextTokens
	p.ToolCatalog = k.Registry.Catalog()
	return p
}

// traceEnvelope appends every processed envelope to the JSONL audit trail.
// Failures are logged, never propagated; the trail is diagnostic.
func (k *Kernel) traceEnvelope(env *proto.Envelope, effects int) {
	err := k.eventLog.WriteEntry(&eventlog.Entry{
		Timestamp:  time.Now(),
		EnvelopeID: env.ID,
		To:         env.To.String(),
		MsgKind:    env.MsgKind,
		Seq:        env.Seq,
		Effects:    effects,
	})
	if err != nil {
		k.Logger.Warn("event log write failed: %v", err)
	}
}

// Start brings the runtime up, records the session, recovers persisted state,
// and seeds configured rooms and personas. Recovery messages are ordered so
// agent actors exist before rooms try to seat them.
func (k *Kernel) Start() error {
	if k.running {
		return fmt.Errorf("kernel already running")
	}

	k.Runtime.Start(k.ctx)

	k.startedAt = time.Now().UnixMilli()
	if err := k.Ops.StartSession(k.sessionID, "salon", persistence.ModeAutonomous, k.startedAt); err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}

	if err := k.recover(); err != nil {
		return fmt.Errorf("failed to recover persisted state: %w", err)
	}
	if err := k.seed(); err != nil {
		return fmt.Errorf("failed to seed configuration: %w", err)
	}

	k.running = true
	k.Logger.Info("kernel started")
	return nil
}

// recover replays the store into the director: registered agents first, then
// rooms with their memberships. The director spawns the actors and asks for
// each room's message history itself.
func (k *Kernel) recover() error {
	agents, err := k.Ops.ListAgents()
	if err != nil {
		return fmt.Errorf("failed to list agents: %w", err)
	}
	configs := make([]proto.AgentConfig, 0, len(agents))
	for _, a := range agents {
		cfg, err := a.Config()
		if err != nil {
			k.Logger.Warn("skipping agent %s with bad stored config: %v", a.ID, err)
			continue
		}
		configs = append(configs, cfg)
	}
	if len(configs) > 0 {
		k.Runtime.Send(proto.DirectorAddress(), &proto.AgentsLoaded{Configs: configs})
	}

	rooms, err := k.Ops.ListRooms()
	if err != nil {
		return fmt.Errorf("failed to list rooms: %w", err)
	}
	members, err := k.Ops.ListRoomMembers()
	if err != nil {
		return fmt.Errorf("failed to list room members: %w", err)
	}
	if len(rooms) > 0 {
		loaded := &proto.RoomsLoaded{Members: members}
		for _, r := range rooms {
			loaded.Rooms = append(loaded.Rooms, r.Config())
		}
		k.Runtime.Send(proto.DirectorAddress(), loaded)
	}

	k.Logger.Info("recovery queued: %d agents, %d rooms", len(configs), len(rooms))
	return nil
}

// seed sends configured rooms and personas to the director. The director
// deduplicates against whatever recovery already registered.
func (k *Kernel) seed() error {
	for _, room := range k.Config.Rooms {
		k.Runtime.Send(proto.DirectorAddress(), &proto.CreateRoom{Config: room})
	}

	if k.Config.PersonasDir == "" {
		return nil
	}
	personas, err := config.LoadPersonas(k.Config.PersonasDir)
	if err != nil {
		return fmt.Errorf("failed to load personas: %w", err)
	}
	for _, persona := range personas {
		k.Runtime.Send(proto.DirectorAddress(), &proto.RegisterAgent{Config: persona})
	}
	if len(personas) > 0 {
		k.Logger.Info("registered %d personas from %s", len(personas), k.Config.PersonasDir)
	}
	return nil
}

// Stop shuts everything down: runtime first so no new effects are produced,
// then the executors with in-flight work, then the hub, and the database last
// so every drained effect could still reach it.
func (k *Kernel) Stop() error {
	if !k.running {
		return nil
	}
	k.Logger.Info("stopping kernel")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := k.Runtime.Shutdown(shutdownCtx); err != nil {
		k.Logger.Error("runtime shutdown: %v", err)
	}
	if err := k.llmExec.Shutdown(shutdownCtx); err != nil {
		k.Logger.Warn("llm executor shutdown: %v", err)
	}
	if err := k.toolsExec.Shutdown(shutdownCtx); err != nil {
		k.Logger.Warn("tool executor shutdown: %v", err)
	}
	k.Hub.Shutdown()
	k.cancel()

	if err := k.Ops.EndSession(k.sessionID, time.Now().UnixMilli()); err != nil {
		k.Logger.Warn("failed to close session record: %v", err)
	}
	if err := k.eventLog.Close(); err != nil {
		k.Logger.Warn("failed to close event log: %v", err)
	}
	if err := persistence.Close(); err != nil {
		k.Logger.Error("failed to close database: %v", err)
	}

	k.running = false
	k.Logger.Info("kernel stopped")
	return nil
}

// SessionID returns the id of the current server run.
func (k *Kernel) SessionID() string {
	return k.sessionID
}

// Health reports whether the kernel can serve traffic. It pings the database
// and confirms the runtime is up.
func (k *Kernel) Health(ctx context.Context) error {
	if !k.running {
		return fmt.Errorf("kernel not running")
	}
	if err := k.Database.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}
