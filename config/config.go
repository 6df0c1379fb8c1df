/*
Copyright 2025 Pulp Health Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5401"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"PULP_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"PULP_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"PULP_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"PULP_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"PULP_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"PULP_SERVER_PORT"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"PULP_REDIS_DNS"`
}

// EncryptionConfig carries the key used to seal retry-queue payloads before
// they touch Redis. Eligibility payloads contain PHI and are never written
// at rest in the clear; an empty key disables queueing entirely.
type EncryptionConfig struct {
	Key string `json:"key" envconfig:"PULP_ENCRYPTION_KEY"`
}

type HttpServiceConfig struct {
	Url     string `json:"url"`
	Timeout int    `json:"timeout"`
	Headers struct {
		Authorization string `json:"Authorization"`
	} `json:"headers"`
}

// ClearinghouseEndpoint is an alternate eligibility endpoint tried in
// order when the primary clearinghouse fails.
type ClearinghouseEndpoint struct {
	Name        string            `json:"name"`
	HttpService HttpServiceConfig `json:"http_service"`
}

type ClearinghouseConfig struct {
	Name             string                  `json:"name" envconfig:"PULP_CLEARINGHOUSE_NAME"`
	HttpService      HttpServiceConfig       `json:"http_service"`
	ProviderNPI      string                  `json:"provider_npi" envconfig:"PULP_CLEARINGHOUSE_PROVIDER_NPI"`
	OrganizationName string                  `json:"organization_name" envconfig:"PULP_CLEARINGHOUSE_ORGANIZATION_NAME"`
	Fallbacks        []ClearinghouseEndpoint `json:"fallbacks"`
	// MaxRequestsPerMinute caps outbound eligibility calls per practice.
	// Zero disables the cap.
	MaxRequestsPerMinute int `json:"max_requests_per_minute" envconfig:"PULP_CLEARINGHOUSE_MAX_RPM"`
}

type PMSConfig struct {
	HttpService   HttpServiceConfig `json:"http_service"`
	PullAheadDays int               `json:"pull_ahead_days" envconfig:"PULP_PMS_PULL_AHEAD_DAYS"`
}

type AssistantConfig struct {
	Enabled     bool              `json:"enabled" envconfig:"PULP_ASSISTANT_ENABLED"`
	HttpService HttpServiceConfig `json:"http_service"`
}

type RetryQueueConfig struct {
	MaxAttempts      *int   `json:"max_attempts" envconfig:"PULP_RETRY_MAX_ATTEMPTS"`
	BatchSize        *int   `json:"batch_size" envconfig:"PULP_RETRY_BATCH_SIZE"`
	TTLHours         *int   `json:"ttl_hours" envconfig:"PULP_RETRY_TTL_HOURS"`
	DrainIntervalSec *int   `json:"drain_interval_sec" envconfig:"PULP_RETRY_DRAIN_INTERVAL_SEC"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"PULP_RETRY_MONITORING_PORT"`
}

type BreakerConfig struct {
	FailureThreshold *int `json:"failure_threshold" envconfig:"PULP_BREAKER_FAILURE_THRESHOLD"`
	DegradedTTLMin   *int `json:"degraded_ttl_min" envconfig:"PULP_BREAKER_DEGRADED_TTL_MIN"`
}

type ScheduleCacheConfig struct {
	MaxPatients      *int `json:"max_patients" envconfig:"PULP_CACHE_MAX_PATIENTS"`
	SweepIntervalSec *int `json:"sweep_interval_sec" envconfig:"PULP_CACHE_SWEEP_INTERVAL_SEC"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"PULP_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"PULP_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"PULP_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type OtelGrafanaCloud struct {
	OtelExporterOtlpProtocol string `json:"otel_exporter_otlp_protocol" envconfig:"OTEL_EXPORTER_OTLP_PROTOCOL"`
	OtelExporterOtlpEndpoint string `json:"otel_exporter_otlp_endpoint" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelExporterOtlpHeaders  string `json:"otel_exporter_otlp_headers" envconfig:"OTEL_EXPORTER_OTLP_HEADERS"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName      string              `json:"project_name" envconfig:"PULP_PROJECT_NAME"`
	EnableTelemetry  bool                `json:"enable_telemetry" envconfig:"PULP_ENABLE_TELEMETRY"`
	OtelGrafanaCloud OtelGrafanaCloud    `json:"otel_grafana_cloud"`
	Server           ServerConfig        `json:"server"`
	Redis            RedisConfig         `json:"redis"`
	Encryption       EncryptionConfig    `json:"encryption"`
	Clearinghouse    ClearinghouseConfig `json:"clearinghouse"`
	PMS              PMSConfig           `json:"pms"`
	Assistant        AssistantConfig     `json:"assistant"`
	RetryQueue       RetryQueueConfig    `json:"retry_queue"`
	Breaker          BreakerConfig       `json:"breaker"`
	ScheduleCache    ScheduleCacheConfig `json:"schedule_cache"`
	Notification     Notification        `json:"notification"`
	RateLimit        RateLimitConfig     `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("pulp", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called pulp.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Pulp Server"
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Encryption.Key = strings.TrimSpace(cnf.Encryption.Key)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.PMS.PullAheadDays <= 0 {
		cnf.PMS.PullAheadDays = 3
	}

	if cnf.Clearinghouse.Name == "" {
		cnf.Clearinghouse.Name = "clearinghouse"
	}

	if cnf.RetryQueue.MaxAttempts == nil {
		defaultAttempts := 3
		cnf.RetryQueue.MaxAttempts = &defaultAttempts
	}
	if cnf.RetryQueue.BatchSize == nil {
		defaultBatch := 10
		cnf.RetryQueue.BatchSize = &defaultBatch
	}
	if cnf.RetryQueue.TTLHours == nil {
		defaultTTL := 24
		cnf.RetryQueue.TTLHours = &defaultTTL
	}
	if cnf.RetryQueue.DrainIntervalSec == nil {
		defaultDrain := 60
		cnf.RetryQueue.DrainIntervalSec = &defaultDrain
	}
	if cnf.RetryQueue.MonitoringPort == "" {
		cnf.RetryQueue.MonitoringPort = "5402"
	}

	if cnf.Breaker.FailureThreshold == nil {
		defaultThreshold := 3
		cnf.Breaker.FailureThreshold = &defaultThreshold
	}
	if cnf.Breaker.DegradedTTLMin == nil {
		defaultDegraded := 60
		cnf.Breaker.DegradedTTLMin = &defaultDegraded
	}

	if cnf.ScheduleCache.MaxPatients == nil {
		defaultMax := 5000
		cnf.ScheduleCache.MaxPatients = &defaultMax
	}
	if cnf.ScheduleCache.SweepIntervalSec == nil {
		defaultSweep := 300
		cnf.ScheduleCache.SweepIntervalSec = &defaultSweep
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
		log.Printf("Warning: Rate limit cleanup interval not specified. Setting default value: %d seconds", defaultCleanup)
	}

	return nil
}

// SetGrafanaExporterEnvs maps the Grafana Cloud OTLP settings onto the
// environment variables the OTel exporter reads at startup.
func SetGrafanaExporterEnvs() error {
	cnf, err := Fetch()
	if err != nil {
		return err
	}
	if err := os.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", cnf.OtelGrafanaCloud.OtelExporterOtlpProtocol); err != nil {
		return err
	}
	if err := os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cnf.OtelGrafanaCloud.OtelExporterOtlpEndpoint); err != nil {
		return err
	}
	return os.Setenv("OTEL_EXPORTER_OTLP_HEADERS", cnf.OtelGrafanaCloud.OtelExporterOtlpHeaders)
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	_ = mockConfig.validateAndAddDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
