package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig   `envPrefix:"DB_"`
	JWT        JWTConfig        `envPrefix:"JWT_"`
	Mpesa      MpesaConfig      `envPrefix:"MPESA_"`
	WhatsApp   WhatsAppConfig   `envPrefix:"WHATSAPP_"`
	SMTP       SMTPConfig       `envPrefix:"SMTP_"`
	Delivery   DeliveryConfig   `envPrefix:"DELIVERY_"`
	Download   DownloadConfig   `envPrefix:"DOWNLOAD_"`
	Cloudinary CloudinaryConfig `envPrefix:"CLOUDINARY_"`
	Store      StoreConfig      `envPrefix:"STORE_"`
	Admin      AdminConfig      `envPrefix:"ADMIN_"`
}

type ServerConfig struct {
	Port         string        `env:"PORT" envDefault:"5000"`
	Env          string        `env:"APP_ENV" envDefault:"development"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
}

type DatabaseConfig struct {
	DSN             string        `env:"DSN" envDefault:"root:@tcp(localhost:3306)/daringbooks?charset=utf8mb4&parseTime=True&loc=Local"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"10"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"100"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"1h"`
}

type JWTConfig struct {
	Secret string        `env:"SECRET" envDefault:"change-me-in-production"`
	Expiry time.Duration `env:"EXPIRY" envDefault:"24h"`
	Issuer string        `env:"ISSUER" envDefault:"daringbooks"`
}

// MpesaConfig holds Daraja STK push credentials. Environment selects the
// Safaricom base URL unless BaseURL overrides it.
type MpesaConfig struct {
	ConsumerKey    string `env:"CONSUMER_KEY"`
	ConsumerSecret string `env:"CONSUMER_SECRET"`
	ShortCode      string `env:"BUSINESS_SHORTCODE"`
	Passkey        string `env:"PASSKEY"`
	CallbackURL    string `env:"CALLBACK_URL"`
	Environment    string `env:"ENVIRONMENT" envDefault:"sandbox"`
	BaseURL        string `env:"BASE_URL"`
}

type WhatsAppConfig struct {
	APIURL     string `env:"API_URL" envDefault:"https://api.ultramsg.com"`
	InstanceID string `env:"INSTANCE_ID"`
	Token      string `env:"TOKEN"`
}

type SMTPConfig struct {
	Host     string `env:"HOST"`
	Port     string `env:"PORT" envDefault:"587"`
	User     string `env:"USER"`
	Pass     string `env:"PASS"`
	FromName string `env:"FROM_NAME" envDefault:"Daring Achievers Network"`
	FromAddr string `env:"FROM"`
}

// DeliveryConfig bounds customer-triggered delivery retries. Admin resends
// get a higher ceiling on the same counter.
type DeliveryConfig struct {
	MaxAttempts      int `env:"MAX_ATTEMPTS" envDefault:"5"`
	AdminMaxAttempts int `env:"ADMIN_MAX_ATTEMPTS" envDefault:"10"`
}

type DownloadConfig struct {
	TokenSecret  string        `env:"TOKEN_SECRET" envDefault:"change-me-download-secret"`
	TokenTTL     time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	MaxDownloads int           `env:"MAX_DOWNLOADS" envDefault:"5"`
}

type CloudinaryConfig struct {
	CloudName string `env:"CLOUD_NAME"`
	APIKey    string `env:"API_KEY"`
	APISecret string `env:"API_SECRET"`
}

type StoreConfig struct {
	Name         string `env:"NAME" envDefault:"Daring Achievers Network"`
	FrontendURL  string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
	BackendURL   string `env:"BACKEND_URL" envDefault:"http://localhost:5000"`
	UploadDir    string `env:"UPLOAD_DIR" envDefault:"uploads"`
	ContactEmail string `env:"CONTACT_EMAIL"`
	ContactPhone string `env:"CONTACT_PHONE"`
}

// AdminConfig seeds the initial admin account on first boot.
type AdminConfig struct {
	Email    string `env:"EMAIL"`
	Password string `env:"PASSWORD"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
