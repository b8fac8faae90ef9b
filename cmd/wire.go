package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bnema/drawq/internal/adapters/memory"
	"github.com/bnema/drawq/internal/adapters/notify"
	amqpnotify "github.com/bnema/drawq/internal/adapters/notify/amqp"
	"github.com/bnema/drawq/internal/adapters/notify/webhook"
	"github.com/bnema/drawq/internal/adapters/protocol/relay"
	redisadapter "github.com/bnema/drawq/internal/adapters/redis"
	statusadapter "github.com/bnema/drawq/internal/adapters/render/status"
	"github.com/bnema/drawq/internal/adapters/repo/postgres"
	tomlrepo "github.com/bnema/drawq/internal/adapters/repo/toml"
	chainstore "github.com/bnema/drawq/internal/adapters/secrets/chain"
	"github.com/bnema/drawq/internal/application"
	"github.com/bnema/drawq/internal/config"
	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/logging"
	"github.com/bnema/drawq/internal/ports"
	"github.com/bnema/drawq/internal/quota"
	"github.com/bnema/drawq/internal/selection"
	"github.com/bnema/drawq/internal/worker"
	"github.com/go-logr/logr"
	goredis "github.com/go-redis/redis/v8"
)

type app struct {
	cfg            config.Config
	logger         logr.Logger
	accounts       *application.AccountService
	secretStore    ports.SecretStore
	statusRenderer func([]application.InstanceStatus, statusadapter.RenderOptions) (string, error)
	httpClient     *http.Client
	clock          ports.Clock
	now            func() time.Time

	rt *runtime
}

// runtime holds the shared-state side of the app. It is built on first use
// so account administration never dials redis or postgres.
type runtime struct {
	backend    ports.Backend
	tasks      ports.TaskRepository
	quota      *quota.Tracker
	notifier   ports.Notifier
	dispatcher *application.Dispatcher
	closers    []io.Closer
}

func wireApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, fmt.Errorf("wire logger: %w", err)
	}

	repo, err := tomlrepo.NewRepository(cfg.Viper())
	if err != nil {
		return nil, fmt.Errorf("wire account repository: %w", err)
	}

	secretStore, err := chainstore.NewEnvFirstWithFileFallback(cfg.Secrets.Dir)
	if err != nil {
		return nil, fmt.Errorf("wire secret store chain: %w", err)
	}

	clock := ports.SystemClock{}
	return &app{
		cfg:            cfg,
		logger:         logger,
		accounts:       application.NewAccountService(repo, secretStore, clock),
		secretStore:    secretStore,
		statusRenderer: statusadapter.Render,
		httpClient:     &http.Client{Timeout: cfg.Relay.Timeout},
		clock:          clock,
		now:            time.Now,
	}, nil
}

// runtime wires the coordination backend, task store, notifier and
// dispatcher. strictTokens makes a missing relay token fail instance
// construction; read-only commands pass false.
func (a *app) runtime(ctx context.Context, strictTokens bool) (*runtime, error) {
	if a.rt != nil {
		return a.rt, nil
	}

	rt := &runtime{}
	var client goredis.UniversalClient
	if a.cfg.Backend == config.BackendRedis || a.cfg.Tasks.Store == config.BackendRedis {
		client = goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:    []string{a.cfg.Redis.Addr},
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, client)
		if err := redisadapter.Ping(ctx, client); err != nil {
			return nil, errors.Join(fmt.Errorf("connect redis at %s: %w", a.cfg.Redis.Addr, err), rt.close())
		}
	}

	switch a.cfg.Backend {
	case config.BackendRedis:
		rt.backend = redisadapter.NewBackend(client, redisadapter.Options{
			Prefix:   a.cfg.Redis.Prefix,
			LeaseTTL: a.cfg.Redis.LeaseTTL,
		}, a.clock)
	default:
		rt.backend = memory.NewBackend(a.clock)
	}

	switch a.cfg.Tasks.Store {
	case config.BackendRedis:
		rt.tasks = redisadapter.NewTaskRepository(client, a.cfg.Redis.Prefix, a.cfg.Tasks.TTL)
	case config.StorePostgres:
		repo, err := postgres.Open(ctx, a.cfg.Postgres.DSN, a.cfg.Postgres.AutoCreate)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("wire postgres task store: %w", err), rt.close())
		}
		rt.closers = append(rt.closers, repo)
		rt.tasks = repo
	default:
		rt.tasks = memory.NewTaskRepository()
	}

	notifier, err := a.notifier(rt)
	if err != nil {
		return nil, errors.Join(err, rt.close())
	}
	rt.notifier = notifier

	rt.quota = quota.NewTracker(rt.backend.Counters(), a.cfg.QuotaConfig(), a.clock, a.logger.WithName("quota"))

	rule, err := selection.New(a.cfg.Dispatch.Rule)
	if err != nil {
		return nil, errors.Join(err, rt.close())
	}
	dispatcher, err := application.NewDispatcher(application.DispatcherOptions{
		Rule:            rule,
		SelectionBudget: a.cfg.Dispatch.SelectionBudget,
		Tasks:           rt.tasks,
		Factory:         a.instanceFactory(rt, strictTokens),
		Clock:           a.clock,
		Logger:          a.logger.WithName("dispatcher"),
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("wire dispatcher: %w", err), rt.close())
	}
	rt.dispatcher = dispatcher

	a.rt = rt
	return rt, nil
}

func (a *app) notifier(rt *runtime) (ports.Notifier, error) {
	var sinks notify.Fanout
	if a.cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, webhook.New(a.cfg.Notify.WebhookURL, a.httpClient))
	}
	if a.cfg.Notify.AMQPURL != "" {
		publisher, err := amqpnotify.Dial(a.cfg.Notify.AMQPURL, a.cfg.Notify.AMQPExchange)
		if err != nil {
			return nil, fmt.Errorf("wire amqp notifier: %w", err)
		}
		rt.closers = append(rt.closers, publisher)
		sinks = append(sinks, publisher)
	}
	if len(sinks) == 0 {
		return notify.Nop{}, nil
	}
	return notify.NewFilter(sinks, a.cfg.Notify.DedupTTL), nil
}

func (a *app) instanceFactory(rt *runtime, strictTokens bool) application.InstanceFactory {
	return func(account domain.Account) (*worker.Instance, error) {
		token, err := a.relayToken(account)
		if err != nil {
			if strictTokens {
				return nil, err
			}
			a.logger.V(logging.VERBOSE).Info("Relay token unavailable", "account", account.ID, "error", err.Error())
		}

		adapter := &relay.Adapter{
			API:            relay.DefaultAPI(a.cfg.Relay.BaseURL),
			Account:        account.ID,
			Token:          token,
			HTTPClient:     a.httpClient,
			RequestTimeout: a.cfg.Relay.Timeout,
		}
		return worker.New(account, a.cfg.Worker(), worker.Deps{
			Backend:  rt.backend,
			Tasks:    rt.tasks,
			Quota:    rt.quota,
			Adapter:  adapter,
			Notifier: rt.notifier,
			Accounts: a.accounts,
			Probe:    adapter,
			Clock:    a.clock,
			Logger:   a.logger.WithName("worker"),
		})
	}
}

func (a *app) relayToken(account domain.Account) (string, error) {
	if account.SecretRef == "" {
		return "", nil
	}
	token, err := a.secretStore.Get(context.Background(), account.SecretRef)
	if err != nil {
		return "", fmt.Errorf("load relay token for account %s: %w", account.ID, err)
	}
	return token, nil
}

// loadPool registers an instance for every stored account without starting
// any consumer loop.
func (a *app) loadPool(ctx context.Context) (*runtime, error) {
	rt, err := a.runtime(ctx, false)
	if err != nil {
		return nil, err
	}
	if err := syncAccounts(ctx, a, rt); err != nil {
		return nil, err
	}
	return rt, nil
}

func (a *app) close() error {
	if a.rt == nil {
		return nil
	}
	err := a.rt.close()
	a.rt = nil
	return err
}

func (rt *runtime) close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
