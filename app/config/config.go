package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP struct {
		Listen string
		Port   int16
	} `yaml:"http"`

	DB struct {
		Driver           string
		ConnectionString string `yaml:"connectionString"`
	} `yaml:"db"`

	Auth struct {
		// The key clients must present in the x-api-key header.
		// Falls back to the API_KEY environment variable when empty.
		APIKey string `yaml:"apiKey"`
	} `yaml:"auth"`

	Provider struct {
		BaseURL string `yaml:"baseURL"`
		// Basic auth credential for the keyword-research provider.
		// Falls back to the DATAFORSEO_BEARER environment variable when empty.
		Credential string `yaml:"credential"`
	} `yaml:"provider"`

	Engine struct {
		// How long a cached profile or SERP stays fresh, in hours.
		CacheMaxAgeHours int32 `yaml:"cacheMaxAgeHours"`
		// Maximum number of related-keyword candidates requested per batch.
		IdeasLimit int `yaml:"ideasLimit"`
		// Maximum number of SERP tasks processed concurrently per request.
		SerpFanout int `yaml:"serpFanout"`
		// Maximum number of unique keywords accepted in one request.
		MaxBatch int `yaml:"maxBatch"`
	} `yaml:"engine"`

	Retention struct {
		Enabled bool
		// Audit rows (jobs, tasks, serps, results) older than this are deleted.
		MaxAgeDays int32 `yaml:"maxAgeDays"`
		// The interval between retention sweeps, in minutes.
		SweepMinutes int32 `yaml:"sweepMinutes"`
	} `yaml:"retention"`
}

func Read() (*Config, error) {
	return ReadFrom("./config.yml")
}

func ReadFrom(fileName string) (*Config, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}

	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.HTTP.Listen == "" {
		config.HTTP.Listen = "0.0.0.0"
	}
	if config.HTTP.Port == 0 {
		config.HTTP.Port = 3000
	}
	if config.Auth.APIKey == "" {
		config.Auth.APIKey = os.Getenv("API_KEY")
	}
	if config.Provider.BaseURL == "" {
		config.Provider.BaseURL = "https://api.dataforseo.com"
	}
	if config.Provider.Credential == "" {
		config.Provider.Credential = os.Getenv("DATAFORSEO_BEARER")
	}
	if config.Engine.CacheMaxAgeHours == 0 {
		config.Engine.CacheMaxAgeHours = 24
	}
	if config.Engine.IdeasLimit == 0 {
		config.Engine.IdeasLimit = 10
	}
	if config.Engine.SerpFanout == 0 {
		config.Engine.SerpFanout = 8
	}
	if config.Engine.MaxBatch == 0 {
		config.Engine.MaxBatch = 100
	}
	if config.Retention.MaxAgeDays == 0 {
		config.Retention.MaxAgeDays = 30
	}
	if config.Retention.SweepMinutes == 0 {
		config.Retention.SweepMinutes = 60
	}
}
