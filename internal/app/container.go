package app

import (
	"context"
	"fmt"

	"github.com/acme/voice-interview/internal/api/handlers"
	"github.com/acme/voice-interview/internal/config"
	"github.com/acme/voice-interview/internal/decision"
	"github.com/acme/voice-interview/internal/dialogue"
	"github.com/acme/voice-interview/internal/infra/db"
	"github.com/acme/voice-interview/internal/infra/redis"
	"github.com/acme/voice-interview/internal/media"
	"github.com/acme/voice-interview/internal/narration"
	"github.com/acme/voice-interview/internal/poll"
	"github.com/acme/voice-interview/internal/queue"
	"github.com/acme/voice-interview/internal/repository"
	"github.com/acme/voice-interview/internal/repository/memory"
	pgrepo "github.com/acme/voice-interview/internal/repository/postgres"
	scyllarepo "github.com/acme/voice-interview/internal/repository/scylla"
	"github.com/acme/voice-interview/internal/service/catalog"
	"github.com/acme/voice-interview/internal/service/concurrency"
	"github.com/acme/voice-interview/internal/service/interview"
	"github.com/acme/voice-interview/internal/speech"
	"github.com/acme/voice-interview/internal/telephony"
	telephonyMock "github.com/acme/voice-interview/internal/telephony/mock"
	"github.com/acme/voice-interview/internal/telephony/twilio"
	"github.com/acme/voice-interview/pkg/logger"
)

// Container wires together shared infrastructure dependencies. Scylla, Redis
// and Kafka are nil when their configuration leaves them out.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	components struct {
		repositories *repositories
		publishers   *publishers
		providers    *providers
		services     *services
	}
}

type repositories struct {
	Sessions   repository.SessionStore
	Candidates *pgrepo.CandidateRepository
	Questions  *pgrepo.QuestionRepository
	Calls      *pgrepo.CallRecordRepository
	Answers    *pgrepo.AnswerRepository
	Requests   *pgrepo.InterviewRequestRepository
}

type publishers struct {
	Events         *queue.EventPublisher
	Transcriptions *queue.TranscriptionDispatcher
	DeadLetters    *queue.DeadLetterPublisher
}

type providers struct {
	Dialer      telephony.Dialer
	Renderer    *twilio.Renderer
	Validator   *twilio.Validator
	Decision    decision.Service
	Transcriber speech.Transcriber
	Narrator    *narration.Narrator
	Media       media.Store
	Locker      concurrency.Locker
}

type services struct {
	Engine     *dialogue.Engine
	Interviews *interview.Service
	Catalog    *catalog.Service
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	container := &Container{Config: cfg, Logger: lg}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}
	container.Postgres = pg

	if cfg.Store.Backend == "scylla" {
		scylla, err := db.NewScylla(cfg.Scylla)
		if err != nil {
			_ = container.Close(ctx)
			return nil, fmt.Errorf("bootstrap scylla: %w", err)
		}
		container.Scylla = scylla
	}

	if cfg.Redis.Address != "" {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			_ = container.Close(ctx)
			return nil, fmt.Errorf("bootstrap redis: %w", err)
		}
		container.Redis = redisClient
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := queue.NewKafka(cfg.Kafka)
		if err != nil {
			_ = container.Close(ctx)
			return nil, fmt.Errorf("bootstrap kafka: %w", err)
		}
		container.Kafka = kafka
	}

	if err := container.initComponents(ctx); err != nil {
		_ = container.Close(ctx)
		return nil, err
	}

	return container, nil
}

func (c *Container) initComponents(ctx context.Context) error {
	cfg := c.Config
	sqlDB := c.Postgres.DB()

	repos := &repositories{
		Candidates: pgrepo.NewCandidateRepository(sqlDB),
		Questions:  pgrepo.NewQuestionRepository(sqlDB),
		Calls:      pgrepo.NewCallRecordRepository(sqlDB),
		Answers:    pgrepo.NewAnswerRepository(sqlDB),
		Requests:   pgrepo.NewInterviewRequestRepository(sqlDB),
	}
	if c.Scylla != nil {
		store := scyllarepo.NewSessionStore(c.Scylla.Session())
		if !cfg.Scylla.DisableInitSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		repos.Sessions = store
	} else {
		c.Logger.Warn("conversation store is in memory; sessions do not survive a restart")
		repos.Sessions = memory.NewSessionStore()
	}

	pubs := &publishers{}
	if c.Kafka != nil {
		pubs.Events = queue.NewEventPublisher(c.Kafka, cfg.Kafka.EventTopic)
		pubs.Transcriptions = queue.NewTranscriptionDispatcher(c.Kafka, cfg.Kafka.TranscriptionTopic)
		pubs.DeadLetters = queue.NewDeadLetterPublisher(c.Kafka, cfg.Kafka.DeadLetterTopic)
	}

	provs, err := c.buildProviders()
	if err != nil {
		return err
	}

	deps := dialogue.Dependencies{
		Store:      repos.Sessions,
		Questions:  repos.Questions,
		Candidates: repos.Candidates,
		Decision:   provs.Decision,
		Dialer:     provs.Dialer,
		Locker:     provs.Locker,
	}
	if provs.Transcriber != nil {
		deps.Transcriber = provs.Transcriber
	}
	if provs.Narrator != nil {
		deps.Narrator = provs.Narrator
	}
	var narrator catalog.Narrator
	if provs.Narrator != nil {
		narrator = provs.Narrator
	}
	var events interview.EventPublisher
	if pubs.Events != nil {
		deps.Events = pubs.Events
		deps.Transcriptions = pubs.Transcriptions
		events = pubs.Events
	}

	svcs := &services{
		Engine: dialogue.New(dialogue.ConfigFrom(cfg.Interview, cfg.Prompts), deps, c.Logger),
		Interviews: interview.NewService(
			repos.Sessions,
			repos.Candidates,
			repos.Requests,
			provs.Dialer,
			provs.Locker,
			events,
			c.Logger,
		),
		Catalog: catalog.NewService(repos.Candidates, repos.Questions, repos.Calls, repos.Answers, narrator),
	}

	c.components.repositories = repos
	c.components.publishers = pubs
	c.components.providers = provs
	c.components.services = svcs
	return nil
}

func (c *Container) buildProviders() (*providers, error) {
	cfg := c.Config
	provs := &providers{
		Renderer: twilio.NewRenderer(cfg.Twilio.PublicBaseURL, cfg.Interview.Voice, cfg.Interview.Language),
	}

	if cfg.Twilio.AccountSID == "" {
		c.Logger.Warn("twilio account not configured; using the mock dialer")
		provs.Dialer = telephonyMock.NewDialer(c.Logger)
	} else {
		provs.Dialer = twilio.NewClient(cfg.Twilio, provs.Renderer, c.Logger)
	}
	if cfg.Twilio.ValidateSignatures {
		provs.Validator = twilio.NewValidator(cfg.Twilio.AuthToken)
	}

	switch cfg.Decision.Provider {
	case "keywords":
		provs.Decision = decision.NewKeywords(decision.KeywordConfig{
			Affirmative: cfg.Decision.AffirmativeWords,
			Negative:    cfg.Decision.NegativeWords,
			Reschedule:  cfg.Decision.RescheduleWords,
			Repeat:      cfg.Decision.RepeatWords,
		})
	default:
		provs.Decision = decision.NewOpenAI(decision.OpenAIConfig{
			APIKey:  cfg.Decision.APIKey,
			BaseURL: cfg.Decision.BaseURL,
			Model:   cfg.Decision.Model,
		})
	}

	if cfg.Speech.APIKey != "" {
		provs.Transcriber = speech.NewElevenLabs(speech.Config{
			APIKey:            cfg.Speech.APIKey,
			BaseURL:           cfg.Speech.BaseURL,
			Model:             cfg.Speech.Model,
			Language:          cfg.Interview.Language,
			RecordingUser:     cfg.Twilio.AccountSID,
			RecordingPassword: cfg.Twilio.AuthToken,
			Poll: poll.Policy{
				MaxAttempts:     cfg.Speech.PollAttempts,
				InitialInterval: cfg.Speech.PollInterval,
				MaxInterval:     cfg.Speech.PollMaxInterval,
			},
			RequestTimeout: cfg.Speech.RequestTimeout,
		}, nil)
	}

	switch cfg.Media.Backend {
	case "s3":
		client := media.NewS3Client(media.S3Config{
			Bucket:    cfg.Media.Bucket,
			Prefix:    cfg.Media.Prefix,
			Region:    cfg.Media.Region,
			Endpoint:  cfg.Media.Endpoint,
			AccessKey: cfg.Media.AccessKey,
			SecretKey: cfg.Media.SecretKey,
		})
		provs.Media = media.NewS3(client, cfg.Media.Bucket, cfg.Media.Prefix)
	default:
		disk, err := media.NewDisk(cfg.Media.Dir)
		if err != nil {
			return nil, fmt.Errorf("bootstrap media: %w", err)
		}
		provs.Media = disk
	}

	if cfg.Narration.Enabled {
		synth := narration.NewElevenLabs(narration.ElevenLabsConfig{
			APIKey:          cfg.Narration.APIKey,
			BaseURL:         cfg.Narration.BaseURL,
			VoiceID:         cfg.Narration.VoiceID,
			ModelID:         cfg.Narration.ModelID,
			Stability:       cfg.Narration.Stability,
			SimilarityBoost: cfg.Narration.SimilarityBoost,
			RequestTimeout:  cfg.Narration.RequestTimeout,
		}, nil)
		provs.Narrator = narration.NewNarrator(synth, provs.Media, cfg.Twilio.PublicBaseURL, c.Logger.Named("narration"))
	}

	if c.Redis != nil {
		provs.Locker = concurrency.NewRedisLocker(c.Redis.Inner(), cfg.Interview.LockTTL, cfg.Interview.LockWait, c.Logger.Named("lock"))
	} else {
		provs.Locker = concurrency.NewLocalLocker(cfg.Interview.LockWait)
	}

	return provs, nil
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	return c.components.repositories
}

// Publishers exposes the Kafka publishers. Its fields are nil without Kafka.
func (c *Container) Publishers() *publishers {
	return c.components.publishers
}

// Providers exposes external providers.
func (c *Container) Providers() *providers {
	return c.components.providers
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	return c.components.services
}

// HandlerSet builds HTTP handlers with dependencies.
func (c *Container) HandlerSet() *handlers.HandlerSet {
	provs := c.components.providers
	svcs := c.components.services

	deps := handlers.Dependencies{
		Engine:        svcs.Engine,
		Renderer:      provs.Renderer,
		PublicBaseURL: c.Config.Twilio.PublicBaseURL,
		Media:         provs.Media,
		Catalog:       svcs.Catalog,
		Interviews:    svcs.Interviews,
		Checks:        c.healthChecks(),
		Logger:        c.Logger,
	}
	if provs.Validator != nil {
		deps.Validator = provs.Validator
	}
	return handlers.NewHandlerSet(deps)
}

func (c *Container) healthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"postgres": c.Postgres.Ping,
	}
	if c.Scylla != nil {
		checks["scylla"] = c.Scylla.Ping
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis.Ping
	}
	if c.Kafka != nil {
		checks["kafka"] = c.Kafka.Ping
	}
	return checks
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if p := c.components.publishers; p != nil {
		if p.Events != nil {
			if err := p.Events.Close(); err != nil {
				errs = append(errs, fmt.Errorf("event publisher close: %w", err))
			}
		}
		if p.Transcriptions != nil {
			if err := p.Transcriptions.Close(); err != nil {
				errs = append(errs, fmt.Errorf("transcription dispatcher close: %w", err))
			}
		}
		if p.DeadLetters != nil {
			if err := p.DeadLetters.Close(); err != nil {
				errs = append(errs, fmt.Errorf("dead letter publisher close: %w", err))
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

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	if c.Kafka == nil {
		return fmt.Errorf("kafka is not configured")
	}
	return c.Kafka.EnsureTopics(ctx, c.Kafka.Topics(), c.Config.Kafka.Partitions, c.Config.Kafka.ReplicationFactor)
}
