package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       App       `yaml:"app"`
	Database  Database  `yaml:"database"`
	Allows    Allows    `yaml:"allows"`
	WhatsApp  WhatsApp  `yaml:"whatsapp"`
	Redis     Redis     `yaml:"redis"`
	Minio     Minio     `yaml:"minio"`
	AI        AI        `yaml:"ai"`
	Media     Media     `yaml:"media"`
	Reply     Reply     `yaml:"reply"`
	Events    Events    `yaml:"events"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Log       Log       `yaml:"log"`
}

type App struct {
	Name      string `yaml:"name"`
	Port      string `yaml:"port"`
	Host      string `yaml:"host"`
	JWTSecret string `yaml:"jwt_secret"`
}

type Database struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
	Name string `yaml:"name"`
}

type Allows struct {
	Methods []string `yaml:"methods"`
	Origins []string `yaml:"origins"`
	Headers []string `yaml:"headers"`
}

// WhatsApp holds the session manager knobs.
type WhatsApp struct {
	CredentialsDir       string        `yaml:"credentials_dir"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	RestartDelay         time.Duration `yaml:"restart_delay"`
	PairingTTL           time.Duration `yaml:"pairing_ttl"`
	ContactSyncWidth     int           `yaml:"contact_sync_width"`
	ProfileLookupTimeout time.Duration `yaml:"profile_lookup_timeout"`
	SendTimeout          time.Duration `yaml:"send_timeout"`
	EchoTTL              time.Duration `yaml:"echo_ttl"`
	RestoreStagger       time.Duration `yaml:"restore_stagger"`
}

// Redis is optional; an empty Addr selects the in-process caches.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Minio struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	PublicURL string `yaml:"public_url"`
}

type AIProvider struct {
	Name    string        `yaml:"name"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type AI struct {
	Primary     AIProvider `yaml:"primary"`
	Secondary   AIProvider `yaml:"secondary"`
	STTModel    string     `yaml:"stt_model"`
	VisionModel string     `yaml:"vision_model"`
}

type Media struct {
	AudioTimeout     time.Duration `yaml:"audio_timeout"`
	ImageTimeout     time.Duration `yaml:"image_timeout"`
	DocumentTimeout  time.Duration `yaml:"document_timeout"`
	DownloadTimeout  time.Duration `yaml:"download_timeout"`
	MaxAudioBytes    int64         `yaml:"max_audio_bytes"`
	MinDocumentChars int           `yaml:"min_document_chars"`
}

type Reply struct {
	HistoryLimit      int    `yaml:"history_limit"`
	FallbackPersonaID string `yaml:"fallback_persona_id"`
}

// Events configures the optional AMQP copy of realtime events.
type Events struct {
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

type RateLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func InitConfig() *Config {
	var configs Config
	file_name, _ := filepath.Abs("./config.yaml")
	yaml_file, _ := os.ReadFile(file_name)
	yaml.Unmarshal(yaml_file, &configs)

	configs.applyEnv()
	configs.applyDefaults()
	return &configs
}

// Parse decodes raw YAML and applies defaults without reading the environment.
func Parse(raw []byte) (*Config, error) {
	var configs Config
	if err := yaml.Unmarshal(raw, &configs); err != nil {
		return nil, err
	}
	configs.applyDefaults()
	return &configs, nil
}

func (c *Config) applyEnv() {
	// Override with environment variables if they exist (for Docker)
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		c.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		c.Database.Port = dbPort
	}
	if dbUser := os.Getenv("DB_USER"); dbUser != "" {
		c.Database.User = dbUser
	}
	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		c.Database.Pass = dbPassword
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		c.Database.Name = dbName
	}

	if appHost := os.Getenv("APP_HOST"); appHost != "" {
		c.App.Host = appHost
	}
	if appPort := os.Getenv("APP_PORT"); appPort != "" {
		c.App.Port = appPort
	}
	if appName := os.Getenv("APP_NAME"); appName != "" {
		c.App.Name = appName
	}
	if secret := os.Getenv("SECRET"); secret != "" {
		c.App.JWTSecret = secret
	}

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		c.Redis.Addr = redisAddr
	}
	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		c.Minio.Endpoint = endpoint
	}
	if accessKey := os.Getenv("MINIO_ACCESS_KEY"); accessKey != "" {
		c.Minio.AccessKey = accessKey
	}
	if secretKey := os.Getenv("MINIO_SECRET_KEY"); secretKey != "" {
		c.Minio.SecretKey = secretKey
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.AI.Primary.APIKey = key
	}
	if key := os.Getenv("DEEPSEEK_API_KEY"); key != "" {
		c.AI.Secondary.APIKey = key
	}
	if amqpURL := os.Getenv("AMQP_URL"); amqpURL != "" {
		c.Events.AMQPURL = amqpURL
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "chatbridge"
	}
	if c.App.Port == "" {
		c.App.Port = "8000"
	}

	w := &c.WhatsApp
	if w.CredentialsDir == "" {
		w.CredentialsDir = "./data/credentials"
	}
	if w.ReconnectDelay <= 0 {
		w.ReconnectDelay = 4 * time.Second
	}
	if w.RestartDelay <= 0 {
		w.RestartDelay = 2 * time.Second
	}
	if w.PairingTTL <= 0 {
		w.PairingTTL = 3 * time.Minute
	}
	if w.ContactSyncWidth <= 0 {
		w.ContactSyncWidth = 5
	}
	if w.ProfileLookupTimeout <= 0 {
		w.ProfileLookupTimeout = 5 * time.Second
	}
	if w.SendTimeout <= 0 {
		w.SendTimeout = 15 * time.Second
	}
	if w.EchoTTL <= 0 {
		w.EchoTTL = 2 * time.Minute
	}
	if w.RestoreStagger <= 0 {
		w.RestoreStagger = 2 * time.Second
	}

	if c.Minio.Bucket == "" {
		c.Minio.Bucket = "attachments"
	}

	if c.AI.Primary.Name == "" {
		c.AI.Primary.Name = "openai"
	}
	if c.AI.Primary.Model == "" {
		c.AI.Primary.Model = "gpt-4o-mini"
	}
	if c.AI.Primary.Timeout <= 0 {
		c.AI.Primary.Timeout = 30 * time.Second
	}
	if c.AI.Secondary.Name == "" {
		c.AI.Secondary.Name = "deepseek"
	}
	if c.AI.Secondary.BaseURL == "" {
		c.AI.Secondary.BaseURL = "https://api.deepseek.com/v1"
	}
	if c.AI.Secondary.Model == "" {
		c.AI.Secondary.Model = "deepseek-chat"
	}
	if c.AI.Secondary.Timeout <= 0 {
		c.AI.Secondary.Timeout = 15 * time.Second
	}
	if c.AI.STTModel == "" {
		c.AI.STTModel = "whisper-1"
	}
	if c.AI.VisionModel == "" {
		c.AI.VisionModel = "gpt-4o-mini"
	}

	m := &c.Media
	if m.AudioTimeout <= 0 {
		m.AudioTimeout = 30 * time.Second
	}
	if m.ImageTimeout <= 0 {
		m.ImageTimeout = 20 * time.Second
	}
	if m.DocumentTimeout <= 0 {
		m.DocumentTimeout = 30 * time.Second
	}
	if m.DownloadTimeout <= 0 {
		m.DownloadTimeout = 30 * time.Second
	}
	if m.MaxAudioBytes <= 0 {
		m.MaxAudioBytes = 25 * 1024 * 1024
	}
	if m.MinDocumentChars <= 0 {
		m.MinDocumentChars = 10
	}

	if c.Reply.HistoryLimit <= 0 {
		c.Reply.HistoryLimit = 20
	}
	if c.Reply.FallbackPersonaID == "" {
		c.Reply.FallbackPersonaID = "1"
	}

	if c.Events.Exchange == "" {
		c.Events.Exchange = "chatbridge.events"
	}

	if c.RateLimit.Requests <= 0 {
		c.RateLimit.Requests = 30
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = time.Minute
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
