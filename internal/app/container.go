package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/whatsapp-reply-pipeline/internal/agent"
	agentmock "github.com/acme/whatsapp-reply-pipeline/internal/agent/mock"
	"github.com/acme/whatsapp-reply-pipeline/internal/buffer"
	"github.com/acme/whatsapp-reply-pipeline/internal/config"
	"github.com/acme/whatsapp-reply-pipeline/internal/dispatch"
	"github.com/acme/whatsapp-reply-pipeline/internal/events"
	"github.com/acme/whatsapp-reply-pipeline/internal/infra/db"
	"github.com/acme/whatsapp-reply-pipeline/internal/infra/redis"
	"github.com/acme/whatsapp-reply-pipeline/internal/jobs"
	"github.com/acme/whatsapp-reply-pipeline/internal/lifecycle"
	"github.com/acme/whatsapp-reply-pipeline/internal/lock"
	"github.com/acme/whatsapp-reply-pipeline/internal/messaging"
	messagingmock "github.com/acme/whatsapp-reply-pipeline/internal/messaging/mock"
	"github.com/acme/whatsapp-reply-pipeline/internal/notify"
	"github.com/acme/whatsapp-reply-pipeline/internal/reminder"
	"github.com/acme/whatsapp-reply-pipeline/internal/repository"
	pgrepo "github.com/acme/whatsapp-reply-pipeline/internal/repository/postgres"
	scyllarepo "github.com/acme/whatsapp-reply-pipeline/internal/repository/scylla"
	"github.com/acme/whatsapp-reply-pipeline/internal/sweeper"
	"github.com/acme/whatsapp-reply-pipeline/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *events.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		pipeline     *pipeline
		providers    *providers
	}
}

type repositories struct {
	Buffers       repository.BufferRepository
	Businesses    repository.BusinessRepository
	Contacts      repository.ContactRepository
	Inactivity    repository.InactivityRepository
	Reminders     repository.ReminderRepository
	Conversations repository.ConversationStore
}

type services struct {
	Buffer   *buffer.Service
	Reminder *reminder.Service
}

type pipeline struct {
	Locks      lock.Store
	Jobs       *jobs.Manager
	Publisher  *events.Publisher
	Notifier   *notify.Notifier
	Dispatcher *dispatch.Dispatcher
	Sweeper    *sweeper.Sweeper
	Lifecycle  *lifecycle.Manager
}

type providers struct {
	Generator agent.Generator
	Sender    messaging.Sender
}

// Build constructs a container for the given configuration path. Redis and
// Kafka clients are created without connecting, so the process can come up
// in degraded mode when those backends are down.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient := redis.NewClient(cfg.Redis)

	var kafka *events.Kafka
	if cfg.Kafka.Enabled {
		kafka, err = events.NewKafka(cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("bootstrap kafka: %w", err)
		}
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Buffers:       pgrepo.NewBufferRepository(c.Postgres.DB()),
			Businesses:    pgrepo.NewBusinessRepository(c.Postgres.DB()),
			Contacts:      pgrepo.NewContactRepository(c.Postgres.DB()),
			Inactivity:    pgrepo.NewInactivityRepository(c.Postgres.DB()),
			Reminders:     pgrepo.NewReminderRepository(c.Postgres.DB()),
			Conversations: scyllarepo.NewConversationStore(c.Scylla.Session()),
		}

		prov := &providers{
			Generator: agentmock.NewGenerator(c.Config.Agent),
			Sender:    messagingmock.NewSender(),
		}

		locks := lock.Store(lock.NewRedisStore(c.Redis.Inner(), c.Config.Queues.KeyPrefix, c.Logger))
		jobsMgr := jobs.NewManager(c.Redis.Inner(), c.Config.Queues.KeyPrefix, c.Config.Queues.PollInterval, c.Logger)

		var publisher *events.Publisher
		if c.Kafka != nil {
			publisher = events.NewPublisher(c.Kafka, c.Config.Kafka.EventsTopic)
		}
		notifier := notify.NewNotifier(c.Config.Webhooks.Timeout, c.Logger)

		var pub dispatch.EventPublisher
		if publisher != nil {
			pub = publisher
		}

		dispatcher := dispatch.NewDispatcher(
			jobsMgr,
			repos.Buffers,
			repos.Businesses,
			repos.Contacts,
			repos.Conversations,
			locks,
			prov.Generator,
			prov.Sender,
			pub,
			notifier,
			c.Config.Queues,
			c.Config.Agent,
			c.Logger,
		)

		sweep := sweeper.New(repos.Buffers, repos.Businesses, locks, dispatcher, c.Config.Buffer, c.Logger)

		svcs := &services{
			Buffer: buffer.NewService(
				repos.Buffers,
				repos.Contacts,
				repos.Conversations,
				locks,
				c.Config.Buffer.Window,
				c.Config.Buffer.ActiveTTL,
				c.Logger,
			),
			Reminder: reminder.NewService(
				repos.Reminders,
				repos.Inactivity,
				repos.Contacts,
				repos.Businesses,
				repos.Conversations,
				locks,
				prov.Sender,
				pub,
				c.Config.Reminders,
				c.Logger,
			),
		}

		jobsMgr.Register(jobs.QueueBuffers, 1, sweep.HandleSweepJob, nil)
		jobsMgr.Register(jobs.QueueAIResponses, c.Config.Queues.ResponseWorkers, dispatcher.HandleResponseJob, dispatcher.OnResponseExhausted)
		jobsMgr.Register(jobs.QueueReminders, 1, svcs.Reminder.HandleCatchUpJob, nil)
		jobsMgr.Register(jobs.QueueInactivity, 1, svcs.Reminder.HandleInactivityJob, nil)

		schedule := func() error {
			repeatOpts := jobs.Options{Attempts: 1}
			if err := jobsMgr.ScheduleRepeatable(jobs.QueueBuffers, "sweep-expired", struct{}{}, c.Config.Buffer.SweepInterval, repeatOpts); err != nil {
				return err
			}
			if err := jobsMgr.ScheduleRepeatable(jobs.QueueReminders, "reminder-catch-up", struct{}{}, c.Config.Reminders.CatchUpInterval, repeatOpts); err != nil {
				return err
			}
			return jobsMgr.ScheduleRepeatable(jobs.QueueInactivity, "inactivity-check", struct{}{}, c.Config.Reminders.InactivityInterval, repeatOpts)
		}

		runners := []lifecycle.Runner{sweep.Run, svcs.Reminder.Run}
		lc := lifecycle.NewManager(jobsMgr, schedule, runners, c.Config.Redis.ProbeTimeout, c.Logger)

		c.components.repositories = repos
		c.components.providers = prov
		c.components.services = svcs
		c.components.pipeline = &pipeline{
			Locks:      locks,
			Jobs:       jobsMgr,
			Publisher:  publisher,
			Notifier:   notifier,
			Dispatcher: dispatcher,
			Sweeper:    sweep,
			Lifecycle:  lc,
		}
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Pipeline exposes the queue, lock, and dispatch machinery.
func (c *Container) Pipeline() *pipeline {
	c.initComponents()
	return c.components.pipeline
}

// Providers exposes external providers.
func (c *Container) Providers() *providers {
	c.initComponents()
	return c.components.providers
}

// EnsureTopics ensures the pipeline event topic exists.
func (c *Container) EnsureTopics(ctx context.Context) error {
	if c.Kafka == nil {
		return nil
	}
	return c.Kafka.EnsureTopics(ctx, []string{c.Config.Kafka.EventsTopic}, 12, 1)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if p := c.components.pipeline; p != nil {
		if p.Lifecycle != nil {
			if err := p.Lifecycle.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("lifecycle shutdown: %w", err))
			}
		}
		if p.Publisher != nil {
			if err := p.Publisher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("publisher close: %w", err))
			}
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
