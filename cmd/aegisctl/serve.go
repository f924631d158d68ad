package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/slack-go/slack"

	"github.com/aegisflow/aegis/internal/agent"
	"github.com/aegisflow/aegis/internal/audit"
	"github.com/aegisflow/aegis/internal/bus"
	"github.com/aegisflow/aegis/internal/config"
	"github.com/aegisflow/aegis/internal/consensus"
	"github.com/aegisflow/aegis/internal/coordinator"
	"github.com/aegisflow/aegis/internal/crypto"
	"github.com/aegisflow/aegis/internal/database"
	"github.com/aegisflow/aegis/internal/eventstore"
	"github.com/aegisflow/aegis/internal/external"
	"github.com/aegisflow/aegis/internal/metrics"
	"github.com/aegisflow/aegis/internal/recovery"
	"github.com/aegisflow/aegis/internal/remediation"
	"github.com/aegisflow/aegis/internal/routing"
	"github.com/aegisflow/aegis/pkg/logger"
	"github.com/aegisflow/aegis/pkg/util"
)

// agentTypes is every replica kind the single-binary demo hosts, one
// Runtime-wrapped variant per type, matching coordinator.RequiredAgentType.
var agentTypes = []string{"detection", "diagnosis", "prediction", "resolution", "communication"}

// runServe hosts the whole replica set — bus, consensus cluster,
// agent runtimes, coordinator, and the liveness-only /healthz and
// /metrics surface — in one process, per spec.md §9's single-binary
// deployment redesign.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("database init failed", logger.FieldError, err)
	}
	defer pool.Close()
	logger.AttachDBHandler(pool)
	defer logger.ShutdownDBHandler()

	if err := database.Migrate(ctx, pool, "./migrations"); err != nil {
		logger.Fatal("migration failed", logger.FieldError, err)
	}

	m, err := metrics.New("aegis")
	if err != nil {
		logger.Fatal("metrics init failed", logger.FieldError, err)
	}

	msgBus := bus.NewMessageBus(cfg.BusQueueCapacity)

	var regions []string
	if cfg.EventStoreRegions != "" {
		regions = strings.Split(cfg.EventStoreRegions, ",")
	}
	regionStore := external.NewMemRegionStore()

	events := eventstore.New(pool, msgBus, cfg.EventStoreMaxAppendRetries, cfg.EventRetentionDays,
		cfg.EventStoreReplicationTimeoutMS, regions)
	events.SetReplicaWriter(regionStore)
	events.SetAppendObserver(m)

	auditStore := audit.New(pool)
	auditStore.SetAppendObserver(m)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	}
	replicaCache := routing.NewCache(redisClient, time.Duration(cfg.ReplicaCacheTTLSec)*time.Second)
	replicaPool := routing.NewPool(replicaCache)

	agentStore := agent.NewStore(pool)
	if err := replicaPool.Seed(ctx, agentStore); err != nil {
		logger.Warnw("replica pool seed failed, starting empty", logger.FieldError, err)
	}

	registry := agent.NewRegistry()
	runtimeCfg := func(agentID string) agent.RuntimeConfig {
		return agent.RuntimeConfig{
			AgentID:            agentID,
			CallTimeout:        time.Duration(cfg.AgentCallTimeoutSec) * time.Second,
			MaxRetries:         cfg.AgentMaxRetries,
			BreakerMaxFailures: uint32(cfg.CircuitBreakerMaxFailures),
		}
	}

	var llmGateway external.LLMGateway
	if cfg.AnthropicAPIKey != "" {
		llmGateway = external.NewAnthropicGateway(cfg.AnthropicAPIKey)
	} else {
		llmGateway = external.NewLocalGateway("status update pending")
		logger.Warnw("no ANTHROPIC_API_KEY set, communication agent will draft templated status updates")
	}

	var resolutionRuntime *agent.Runtime
	now := time.Now()
	for _, agentType := range agentTypes {
		replicaID := agentType + "-1"
		keys, err := crypto.GenerateKeyPair()
		if err != nil {
			logger.Fatal("agent key generation failed", logger.FieldError, err)
		}
		signer := func(digest []byte) []byte { return crypto.Sign(keys.PrivateKey, digest) }

		var capability agent.Capability
		switch agentType {
		case "detection":
			capability = agent.NewDetectionAgent(replicaID, signer)
		case "diagnosis":
			capability = agent.NewDiagnosisAgent(replicaID, signer)
		case "prediction":
			capability = agent.NewPredictionAgent(replicaID, signer)
		case "resolution":
			capability = agent.NewResolutionAgent(replicaID, signer)
		case "communication":
			comms := agent.NewCommunicationAgent(replicaID, signer)
			comms.SetDrafter(llmGateway, cfg.AnthropicModelID)
			capability = comms
		}

		rt := agent.NewRuntime(capability, runtimeCfg(replicaID))
		registry.Register(replicaID, rt)
		if agentType == "resolution" {
			resolutionRuntime = rt
		}

		replica := agent.Replica{
			ReplicaID:        replicaID,
			AgentType:        agentType,
			Region:           cfg.NodeRegion,
			Status:           agent.ReplicaHealthy,
			MaxCapacity:      10,
			PerformanceScore: 1,
			LastHeartbeat:    now,
		}
		replicaPool.Upsert(replica)
		if err := agentStore.Upsert(ctx, &replica); err != nil {
			logger.Warnw("replica persist failed", logger.FieldReplicaID, replicaID, logger.FieldError, err)
		}
	}

	patrol := agent.NewPatrol(agentStore, deadReplicaLogger{}, time.Duration(cfg.AgentHeartbeatIntervalSec)*time.Second,
		cfg.AgentDegradedAfterMissed, cfg.AgentDeadAfterMissed)
	patrol.Start(ctx)

	dispatcher := routing.NewDispatcher(replicaPool, registry, routing.SeverityAware, cfg.RoutingPreferredRegion)

	peers := strings.Split(cfg.ConsensusPeerIDs, ",")
	cluster := consensus.NewCluster(peers, consensus.TrustAllVerifier{},
		time.Duration(cfg.ConsensusPrePrepareTimeoutMS)*time.Millisecond,
		time.Duration(cfg.ConsensusViewChangeTimeoutMS)*time.Millisecond)

	consensusStore := consensus.NewStore(pool)
	cluster.SetSuspicionSink(consensusStore)

	primary := cluster.Primary()
	consensusDriver := coordinator.NewEngineAdapter(primary)

	executor := remediation.NewExecutor()
	executor.SetFallback(remediation.RuntimeRunner{Runtime: resolutionRuntime})

	escalators := []recovery.Escalator{recovery.NewAuditEscalator(auditStore)}
	if cfg.SlackBotToken != "" {
		escalators = append(escalators, recovery.NewSlackEscalator(slack.New(cfg.SlackBotToken), cfg.SlackEscalationChannel))
	}
	recoverySystem := recovery.NewSystem(recovery.NewMultiEscalator(escalators...))
	recoverySystem.RegisterTriggers(recovery.DefaultTriggers()...)
	escalator := recovery.NewCoordinatorAdapter(recoverySystem, "system.coordinator")

	backpressure := coordinator.NewBackpressure(cfg.CoordinatorMaxConcurrentIncidents)
	m.StartBackpressurePoller(ctx, "coordinator", backpressure, 5*time.Second)

	required := make([]coordinator.RequiredAgentType, len(agentTypes))
	for i, t := range agentTypes {
		required[i] = coordinator.RequiredAgentType{AgentType: t, Required: true}
	}
	coordCfg := coordinator.Config{
		RequiredAgentTypes: required,
		PerAgentTimeout:    time.Duration(cfg.CoordinatorDispatchTimeoutSec) * time.Second,
		ConsensusTimeout:   time.Duration(cfg.ConsensusPrePrepareTimeoutMS+cfg.ConsensusPrepareTimeoutMS+cfg.ConsensusCommitTimeoutMS) * time.Millisecond,
		MaxRollbackRounds:  3,
	}
	coord := coordinator.New(events, dispatcher, consensusDriver, executor, escalator, backpressure, coordCfg)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(m.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	httpSrv := &http.Server{Addr: cfg.HealthHTTPAddr, Handler: router}
	util.SafeGo(func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("liveness server failed", logger.FieldError, err)
		}
	})

	logger.Infow("aegisctl serve: ready", "health_addr", cfg.HealthHTTPAddr, "consensus_peers", len(peers), "agent_types", len(agentTypes))

	util.SafeGo(func() { intakeLoop(ctx, coord) })

	<-ctx.Done()
	logger.Info("aegisctl serve: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	return nil
}

// deadReplicaLogger answers Patrol's ReplacementNotifier by logging —
// spinning up a real substitute replica is the Scaling component's
// job, out of scope for the single-binary demo (no autoscaling SDK in
// scope per spec.md's non-goals).
type deadReplicaLogger struct{}

func (deadReplicaLogger) ReplicaDead(r agent.Replica) {
	logger.Warnw("replica marked dead", logger.FieldReplicaID, r.ReplicaID, logger.FieldAgentType, r.AgentType)
}

// intakeLoop is the process's intake boundary (spec.md line 55): with
// no general HTTP admin surface in scope, new Incidents arrive as
// newline-delimited JSON on stdin, the same pipeable, non-network
// shape the rest of this CLI uses — `echo '{...}' | aegisctl serve`.
func intakeLoop(ctx context.Context, coord *coordinator.Coordinator) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var incident agent.Incident
		if err := json.Unmarshal([]byte(line), &incident); err != nil {
			logger.Warnw("intake: malformed incident line, skipping", logger.FieldError, err)
			continue
		}
		snapshot, err := coord.HandleIncident(ctx, incident)
		if err != nil {
			logger.Errorw("intake: incident handling failed", logger.FieldIncidentID, incident.IncidentID, logger.FieldError, err)
			continue
		}
		logger.Infow("intake: incident handled", logger.FieldIncidentID, incident.IncidentID, logger.FieldStatus, snapshot.Status)
	}
}
