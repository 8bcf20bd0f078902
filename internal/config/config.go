package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Scylla    ScyllaConfig    `mapstructure:"scylla"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Store     StoreConfig     `mapstructure:"store"`
	Interview InterviewConfig `mapstructure:"interview"`
	Prompts   PromptsConfig   `mapstructure:"prompts"`
	Twilio    TwilioConfig    `mapstructure:"twilio"`
	Decision  DecisionConfig  `mapstructure:"decision"`
	Speech    SpeechConfig    `mapstructure:"speech"`
	Narration NarrationConfig `mapstructure:"narration"`
	Media     MediaConfig     `mapstructure:"media"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	HealthQuery     string        `mapstructure:"health_query"`
}

type ScyllaConfig struct {
	Hosts             []string      `mapstructure:"hosts"`
	Port              int           `mapstructure:"port"`
	Keyspace          string        `mapstructure:"keyspace"`
	Consistency       string        `mapstructure:"consistency"`
	SerialConsistency string        `mapstructure:"serial_consistency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	DisableInitSchema bool          `mapstructure:"disable_init_schema"`
}

type KafkaConfig struct {
	Brokers                 []string      `mapstructure:"brokers"`
	ClientID                string        `mapstructure:"client_id"`
	EventTopic              string        `mapstructure:"event_topic"`
	TranscriptionTopic      string        `mapstructure:"transcription_topic"`
	DeadLetterTopic         string        `mapstructure:"dead_letter_topic"`
	ProjectorGroupID        string        `mapstructure:"projector_group_id"`
	TranscriberGroupID      string        `mapstructure:"transcriber_group_id"`
	CommitInterval          time.Duration `mapstructure:"commit_interval"`
	BatchTimeout            time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	Partitions              int           `mapstructure:"partitions"`
	ReplicationFactor       int           `mapstructure:"replication_factor"`
	TranscriptionMaxRetries int           `mapstructure:"transcription_max_retries"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint          string        `mapstructure:"endpoint"`
	ServiceName       string        `mapstructure:"service_name"`
	SampleRatio       float64       `mapstructure:"sample_ratio"`
	TracingEnabled    bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	CollectorProtocol string        `mapstructure:"collector_protocol"`
}

type SchedulerConfig struct {
	TickInterval  time.Duration         `mapstructure:"tick_interval"`
	MaxBatchSize  int                   `mapstructure:"max_batch_size"`
	TimeZone      string                `mapstructure:"time_zone"`
	BusinessHours []BusinessHoursWindow `mapstructure:"business_hours"`
}

// BusinessHoursWindow is a daily dialing window, e.g. {day: 1, start: "09:00", end: "18:00"}.
type BusinessHoursWindow struct {
	Day   int    `mapstructure:"day"`
	Start string `mapstructure:"start"`
	End   string `mapstructure:"end"`
}

// StoreConfig selects the conversation store backend ("scylla" or "memory").
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

type InterviewConfig struct {
	MaxConsentAttempts   int           `mapstructure:"max_consent_attempts"`
	MaxReprompts         int           `mapstructure:"max_reprompts"`
	SpeechGatherTimeout  time.Duration `mapstructure:"speech_gather_timeout"`
	RecordingTimeout     time.Duration `mapstructure:"recording_timeout"`
	MaxRecordingLength   time.Duration `mapstructure:"max_recording_length"`
	Language             string        `mapstructure:"language"`
	Voice                string        `mapstructure:"voice"`
	CaptureMode          string        `mapstructure:"capture_mode"`
	AdaptiveAnswers      bool          `mapstructure:"adaptive_answers"`
	UnclearPhrases       []string      `mapstructure:"unclear_phrases"`
	DefaultRole          string        `mapstructure:"default_role"`
	TranscriptionTimeout time.Duration `mapstructure:"transcription_timeout"`
	DecisionTimeout      time.Duration `mapstructure:"decision_timeout"`
	LockTTL              time.Duration `mapstructure:"lock_ttl"`
	LockWait             time.Duration `mapstructure:"lock_wait"`
}

type PromptsConfig struct {
	Greeting          string `mapstructure:"greeting"`
	ConsentReprompt   string `mapstructure:"consent_reprompt"`
	Closing           string `mapstructure:"closing"`
	Denial            string `mapstructure:"denial"`
	RescheduleRequest string `mapstructure:"reschedule_request"`
	RescheduleConfirm string `mapstructure:"reschedule_confirm"`
	Voicemail         string `mapstructure:"voicemail"`
	Apology           string `mapstructure:"apology"`
	Goodbye           string `mapstructure:"goodbye"`
}

type TwilioConfig struct {
	AccountSID         string        `mapstructure:"account_sid"`
	AuthToken          string        `mapstructure:"auth_token"`
	FromNumber         string        `mapstructure:"from_number"`
	PublicBaseURL      string        `mapstructure:"public_base_url"`
	ValidateSignatures bool          `mapstructure:"validate_signatures"`
	MachineDetection   string        `mapstructure:"machine_detection"`
	AsyncAMD           bool          `mapstructure:"async_amd"`
	RingTimeout        time.Duration `mapstructure:"ring_timeout"`
}

type DecisionConfig struct {
	Provider          string   `mapstructure:"provider"`
	APIKey            string   `mapstructure:"api_key"`
	BaseURL           string   `mapstructure:"base_url"`
	Model             string   `mapstructure:"model"`
	AffirmativeWords  []string `mapstructure:"affirmative_words"`
	NegativeWords     []string `mapstructure:"negative_words"`
	RescheduleWords   []string `mapstructure:"reschedule_words"`
	RepeatWords       []string `mapstructure:"repeat_words"`
}

type SpeechConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	PollAttempts    int           `mapstructure:"poll_attempts"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PollMaxInterval time.Duration `mapstructure:"poll_max_interval"`
}

type NarrationConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	VoiceID         string        `mapstructure:"voice_id"`
	ModelID         string        `mapstructure:"model_id"`
	Stability       float64       `mapstructure:"stability"`
	SimilarityBoost float64       `mapstructure:"similarity_boost"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// MediaConfig selects where synthesized audio lives ("disk" or "s3").
type MediaConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("INTERVIEW")
	v.SetEnvKeyReplacer(NewEnvReplacer())
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "voice-interview")
	v.SetDefault("app.env", "development")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.health_query", "SELECT 1")
	v.SetDefault("scylla.port", 9042)
	v.SetDefault("scylla.keyspace", "interview")
	v.SetDefault("scylla.consistency", "local_quorum")
	v.SetDefault("scylla.serial_consistency", "local_serial")
	v.SetDefault("scylla.timeout", 5*time.Second)

	v.SetDefault("telemetry.service_name", "voice-interview")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.shutdown_timeout", 5*time.Second)

	v.SetDefault("scheduler.tick_interval", time.Minute)
	v.SetDefault("scheduler.max_batch_size", 50)
	v.SetDefault("scheduler.time_zone", "UTC")

	// secrets arrive through the environment, which viper only maps for known keys
	for _, key := range []string{
		"twilio.account_sid", "twilio.auth_token", "twilio.from_number",
		"decision.api_key", "speech.api_key", "narration.api_key",
		"postgres.url", "postgres.password", "redis.password", "media.access_key", "media.secret_key",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("twilio.machine_detection", "Enable")
	v.SetDefault("twilio.async_amd", true)
	v.SetDefault("twilio.ring_timeout", 30*time.Second)

	v.SetDefault("store.backend", "scylla")
	v.SetDefault("media.backend", "disk")
	v.SetDefault("media.dir", "media")
	v.SetDefault("decision.provider", "openai")
	v.SetDefault("decision.model", "gpt-4o-mini")

	v.SetDefault("interview.max_consent_attempts", 3)
	v.SetDefault("interview.max_reprompts", 3)
	v.SetDefault("interview.speech_gather_timeout", 5*time.Second)
	v.SetDefault("interview.recording_timeout", 3*time.Second)
	v.SetDefault("interview.max_recording_length", 120*time.Second)
	v.SetDefault("interview.language", "en-US")
	v.SetDefault("interview.capture_mode", "gather")
	v.SetDefault("interview.unclear_phrases", []string{"i don't know", "i'm not sure", "not sure", "pass", "no idea", "skip"})
	v.SetDefault("interview.transcription_timeout", 8*time.Second)
	v.SetDefault("interview.decision_timeout", 5*time.Second)
	v.SetDefault("interview.lock_ttl", 15*time.Second)
	v.SetDefault("interview.lock_wait", 5*time.Second)

	v.SetDefault("speech.base_url", "https://api.elevenlabs.io")
	v.SetDefault("speech.model", "scribe_v1")
	v.SetDefault("speech.poll_attempts", 5)
	v.SetDefault("speech.poll_interval", 3*time.Second)
	v.SetDefault("speech.poll_max_interval", 10*time.Second)

	v.SetDefault("narration.base_url", "https://api.elevenlabs.io")
	v.SetDefault("narration.model_id", "eleven_multilingual_v2")
	v.SetDefault("narration.stability", 0.5)
	v.SetDefault("narration.similarity_boost", 0.75)
	v.SetDefault("narration.request_timeout", 10*time.Second)

	v.SetDefault("kafka.client_id", "voice-interview")
	v.SetDefault("kafka.event_topic", "interview.events")
	v.SetDefault("kafka.transcription_topic", "interview.transcriptions")
	v.SetDefault("kafka.dead_letter_topic", "interview.dead-letter")
	v.SetDefault("kafka.projector_group_id", "interview-projector")
	v.SetDefault("kafka.transcriber_group_id", "interview-transcriber")
	v.SetDefault("kafka.commit_interval", time.Second)
	v.SetDefault("kafka.batch_timeout", 10*time.Millisecond)
	v.SetDefault("kafka.write_timeout", 5*time.Second)
	v.SetDefault("kafka.partitions", 12)
	v.SetDefault("kafka.replication_factor", 1)
	v.SetDefault("kafka.transcription_max_retries", 3)
}

// Validate rejects configurations the dialogue engine cannot run with.
func (c *Config) Validate() error {
	if c.Interview.MaxConsentAttempts <= 0 {
		return fmt.Errorf("config: interview.max_consent_attempts must be positive")
	}
	switch c.Interview.CaptureMode {
	case "gather", "record":
	default:
		return fmt.Errorf("config: unsupported interview.capture_mode %q", c.Interview.CaptureMode)
	}
	switch c.Store.Backend {
	case "scylla", "memory":
	default:
		return fmt.Errorf("config: unsupported store.backend %q", c.Store.Backend)
	}
	switch c.Media.Backend {
	case "disk", "s3":
	default:
		return fmt.Errorf("config: unsupported media.backend %q", c.Media.Backend)
	}
	switch c.Decision.Provider {
	case "openai", "keywords":
	default:
		return fmt.Errorf("config: unsupported decision.provider %q", c.Decision.Provider)
	}
	return nil
}
