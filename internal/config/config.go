package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	// Patient API auth
	PatientJWTSecret string

	// Redis (hospital auth token cache)
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Hospital booking gateway
	HospitalHTTPTimeout    time.Duration
	HospitalTokenTTLBuffer time.Duration

	// Payment gateway (deferred capture)
	PaymentGatewayBaseURL string
	PaymentGatewayKey     string
	PaymentGatewaySecret  string

	// Messaging provider
	SMSBaseURL       string
	SMSAPIKey        string
	WhatsAppBaseURL  string
	WhatsAppAPIKey   string
	WhatsAppTemplate string

	// Email
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	AWSRegion         string
	AWSAccessKeyID    string
	AWSSecretAccess   string
	SESFromEmail      string
	SESFromName       string

	// Notifier worker
	NotifierPollInterval time.Duration
	NotifierMaxRetries   int

	CORSAllowedOrigins string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		PatientJWTSecret: getEnv("PATIENT_JWT_SECRET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		HospitalHTTPTimeout:    getEnvAsDuration("HOSPITAL_HTTP_TIMEOUT", 30*time.Second),
		HospitalTokenTTLBuffer: getEnvAsDuration("HOSPITAL_TOKEN_TTL_BUFFER", 5*time.Minute),

		PaymentGatewayBaseURL: getEnv("PAYMENT_GATEWAY_BASE_URL", ""),
		PaymentGatewayKey:     getEnv("PAYMENT_GATEWAY_KEY", ""),
		PaymentGatewaySecret:  getEnv("PAYMENT_GATEWAY_SECRET", ""),

		SMSBaseURL:       getEnv("SMS_BASE_URL", ""),
		SMSAPIKey:        getEnv("SMS_API_KEY", ""),
		WhatsAppBaseURL:  getEnv("WHATSAPP_BASE_URL", ""),
		WhatsAppAPIKey:   getEnv("WHATSAPP_API_KEY", ""),
		WhatsAppTemplate: getEnv("WHATSAPP_TEMPLATE", "appointment_update"),

		EmailProvider:     getEnv("EMAIL_PROVIDER", "sendgrid"),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Patient Care"),
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:    getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccess:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Patient Care"),

		NotifierPollInterval: getEnvAsDuration("NOTIFIER_POLL_INTERVAL", time.Minute),
		NotifierMaxRetries:   getEnvAsInt("NOTIFIER_MAX_RETRIES", 3),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
