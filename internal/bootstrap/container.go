package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ai-daemon/internal/config"
	"ai-daemon/internal/controller"
	"ai-daemon/internal/handler"
	"ai-daemon/internal/pkg/logger"
	"ai-daemon/internal/service"
	"ai-daemon/internal/websocket"
	"ai-daemon/pkg/chat"
	"ai-daemon/pkg/matcher"
	pktNats "ai-daemon/pkg/nats"
	"ai-daemon/pkg/provider"
	"ai-daemon/pkg/provider/factory"
	"ai-daemon/pkg/session"
	"ai-daemon/pkg/vault"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"github.com/uber-go/tally/v4"
)

type Container struct {
	Config *config.Config
	Logger logger.ILogger

	Providers *provider.Registry
	Matcher   *matcher.Matcher
	Vault     *vault.Cache
	Sessions  *session.Registry

	// Controllers
	DaemonController controller.IDaemonController
	WSHandler        *handler.WSHandler

	// Background Services (started by Start)
	ConsumerService service.IConsumerService
	WebSocketHub    *websocket.Hub
	Replicator      *vault.RedisReplicator

	pubSub  *gochannel.GoChannel
	rdb     *redis.Client
	natsPub *pktNats.Publisher
	metrics io.Closer
}

// NewContainer wires the daemon. Optional backends (Redis, NATS) that cannot be reached
// are logged and left out rather than failing startup.
func NewContainer(cfg *config.Config, sysLogger logger.ILogger) (*Container, error) {
	c := &Container{Config: cfg, Logger: sysLogger}

	// 1. Metrics
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix: "ai_daemon",
		Tags:   map[string]string{"service": "ai-daemon"},
	}, 10*time.Second)
	c.metrics = closer

	// 2. Providers
	agents, err := config.LoadAgents(cfg.AI.AgentsFile, cfg.CLI, cfg.Keys)
	if err != nil {
		sysLogger.Warn("Bootstrap", "Ignoring agents file, using built-in agents", map[string]interface{}{
			"path":  cfg.AI.AgentsFile,
			"error": err.Error(),
		})
		if agents, err = config.LoadAgents("", cfg.CLI, cfg.Keys); err != nil {
			return nil, fmt.Errorf("built-in agents: %w", err)
		}
	} else if agents.Source != "" {
		sysLogger.Info("Bootstrap", "Loaded agents file", map[string]interface{}{"path": agents.Source})
	}

	built, err := factory.Build(agents.Specs, http.DefaultClient, sysLogger)
	if err != nil {
		return nil, err
	}
	c.Providers = provider.NewRegistry(provider.NewAvailabilityCache(cfg.AI.AvailabilityTTL))
	for _, p := range built {
		if err := c.Providers.Register(p); err != nil {
			return nil, err
		}
	}
	if _, ok := c.Providers.Get(cfg.AI.DefaultProvider); !ok {
		return nil, fmt.Errorf("default provider %q is not defined", cfg.AI.DefaultProvider)
	}

	c.Matcher = matcher.New(c.Providers,
		matcher.WithRules(matcher.MergeRules(matcher.DefaultRules, agents.Keywords)),
		matcher.WithScope(scope),
		matcher.WithLogger(sysLogger),
	)

	// 3. Vault, replicated through Redis when configured
	c.Vault = vault.New()
	syncer := vault.Local(c.Vault)
	if cfg.App.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			sysLogger.Warn("Bootstrap", "Failed to parse Redis URL, using it as an address", map[string]interface{}{"error": err.Error()})
			opt = &redis.Options{Addr: cfg.App.RedisURL}
		}
		c.rdb = redis.NewClient(opt)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := c.rdb.Ping(ctx).Err(); err != nil {
			sysLogger.Warn("Bootstrap", "Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
		}
		cancel()
		c.Replicator = vault.NewRedisReplicator(c.Vault, c.rdb, sysLogger)
		syncer = c.Replicator
	}

	// 4. Audit bus, forwarded to NATS when configured
	c.pubSub = gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))
	audit := service.NewAuditPublisher(c.pubSub, service.AuditTopic)

	var sink service.EventSink
	if cfg.App.NatsURL != "" {
		pub, err := pktNats.NewPublisher(cfg.App.NatsURL, sysLogger)
		if err != nil {
			sysLogger.Warn("Bootstrap", "Failed to connect to NATS Publisher", map[string]interface{}{"error": err.Error()})
		} else {
			c.natsPub = pub
			sink = pub
		}
	}
	c.ConsumerService = service.NewConsumerService(c.pubSub, service.AuditTopic, sink, sysLogger)

	// 5. Conversations
	orchestrator := chat.New(c.Matcher, c.Vault,
		chat.WithMaxHops(cfg.AI.MaxHops),
		chat.WithMentions(chat.MergeMentions(chat.DefaultMentions, agents.Mentions)),
		chat.WithWorkspaceListing(cfg.AI.WorkspaceListing),
		chat.WithPublisher(audit),
		chat.WithScope(scope),
		chat.WithLogger(sysLogger),
	)
	sessionService := service.NewSessionService(orchestrator, c.Providers, c.Matcher, syncer, sysLogger)

	c.Sessions = session.NewRegistry(sessionService.Handle,
		session.WithQueueSize(cfg.AI.SessionQueueSize),
		session.WithDefaultProvider(cfg.AI.DefaultProvider),
		session.WithScope(scope),
		session.WithLogger(sysLogger),
	)

	// 6. Transport
	wsLogger := logger.NewIsolatedLogger(cfg.App.WSLogFilePath)
	c.WebSocketHub = websocket.NewHub(c.Sessions, sessionService, audit, wsLogger)
	c.WSHandler = handler.NewWSHandler(c.WebSocketHub, wsLogger)

	statusService := service.NewStatusService(c.Providers, c.Sessions, c.Vault, syncer, sysLogger)
	c.DaemonController = controller.NewDaemonController(statusService)

	return c, nil
}

// Start launches the background services. They stop when ctx is done.
func (c *Container) Start(ctx context.Context) error {
	if err := c.ConsumerService.Consume(ctx); err != nil {
		return fmt.Errorf("start audit consumer: %w", err)
	}

	go c.WebSocketHub.Run(ctx)

	if c.Replicator != nil {
		go func() {
			if err := c.Replicator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.Logger.Error("Bootstrap", "Vault replication stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
	}
	return nil
}

// Close waits for the hub to drop its clients and the session workers to finish, then
// releases the backends. ctx passed to Start must already be cancelled.
func (c *Container) Close(timeout time.Duration) error {
	var errs []error

	select {
	case <-c.WebSocketHub.Done():
	case <-time.After(timeout):
		errs = append(errs, errors.New("timed out waiting for websocket hub"))
	}
	if err := c.Sessions.CloseAll(timeout); err != nil {
		errs = append(errs, err)
	}

	if err := c.pubSub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close audit bus: %w", err))
	}
	if c.natsPub != nil {
		c.natsPub.Close()
	}
	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := c.metrics.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close metrics: %w", err))
	}
	return errors.Join(errs...)
}
