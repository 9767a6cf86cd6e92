// Copyright 2020 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/reel/storage"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

const (
	CacheTypePOSIX = "posix"
	CacheTypeS3    = "s3"
	CacheTypeRedis = "redis"
)

// Config is the configuration for the recommender.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Content       ContentConfig       `mapstructure:"content"`
	Collaborative CollaborativeConfig `mapstructure:"collaborative"`
	Recommend     RecommendConfig     `mapstructure:"recommend"`
	Server        ServerConfig        `mapstructure:"server"`
	Importer      ImporterConfig      `mapstructure:"importer"`
}

// DatabaseConfig is the configuration for the snapshot store.
type DatabaseConfig struct {
	DataStore   string `mapstructure:"data_store" validate:"required,data_store"`
	TablePrefix string `mapstructure:"table_prefix"`
}

// CacheConfig is the configuration for the model cache.
type CacheConfig struct {
	Type         string        `mapstructure:"type" validate:"oneof=posix s3 redis"`
	Dir          string        `mapstructure:"dir"`
	RebuildStale bool          `mapstructure:"rebuild_stale"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout" validate:"gt=0"`
	LockTTL      time.Duration `mapstructure:"lock_ttl" validate:"gt=0"`
	S3           S3Config      `mapstructure:"s3"`
	Redis        RedisConfig   `mapstructure:"redis"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type RedisConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// ContentConfig configures the TF-IDF vectorizer.
type ContentConfig struct {
	MaxFeatures int  `mapstructure:"max_features" validate:"gt=0"`
	MinNGram    int  `mapstructure:"min_ngram" validate:"gte=1"`
	MaxNGram    int  `mapstructure:"max_ngram" validate:"gtefield=MinNGram"`
	StopWords   bool `mapstructure:"stop_words"`
}

// CollaborativeConfig configures the latent factor model.
type CollaborativeConfig struct {
	MinRatings  int     `mapstructure:"min_ratings" validate:"gte=0"`
	NFactors    int     `mapstructure:"n_factors" validate:"gt=0"`
	NEpochs     int     `mapstructure:"n_epochs" validate:"gte=0"`
	Lr          float64 `mapstructure:"lr" validate:"gt=0"`
	Reg         float64 `mapstructure:"reg" validate:"gte=0"`
	InitMean    float64 `mapstructure:"init_mean"`
	InitStd     float64 `mapstructure:"init_std" validate:"gte=0"`
	TestRatio   float64 `mapstructure:"test_ratio" validate:"gte=0,lt=1"`
	RandomState int64   `mapstructure:"random_state"`
}

type RecommendConfig struct {
	DefaultN        int    `mapstructure:"default_n" validate:"gt=0"`
	NumJobs         int    `mapstructure:"num_jobs" validate:"gt=0"`
	PopularityScore string `mapstructure:"popularity_score" validate:"required"`
	RandomState     int64  `mapstructure:"random_state"`
}

type ServerConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
}

type ImporterConfig struct {
	TMDBAPIKey  string  `mapstructure:"tmdb_api_key"`
	TMDBBaseURL string  `mapstructure:"tmdb_base_url" validate:"required,url"`
	TMDBRate    float64 `mapstructure:"tmdb_rate" validate:"gt=0"`
	TMDBJobs    int     `mapstructure:"tmdb_jobs" validate:"gt=0"`
	MaxMovies   int     `mapstructure:"max_movies" validate:"gte=0"`
	BatchSize   int     `mapstructure:"batch_size" validate:"gt=0"`
}

// GetDefaultConfig returns the configuration used when nothing is set.
func GetDefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataStore: "sqlite://reel.db",
		},
		Cache: CacheConfig{
			Type:         CacheTypePOSIX,
			Dir:          "models",
			RebuildStale: true,
			LockTimeout:  10 * time.Minute,
			LockTTL:      30 * time.Minute,
		},
		Content: ContentConfig{
			MaxFeatures: 5000,
			MinNGram:    1,
			MaxNGram:    2,
			StopWords:   true,
		},
		Collaborative: CollaborativeConfig{
			MinRatings:  100,
			NFactors:    50,
			NEpochs:     20,
			Lr:          0.005,
			Reg:         0.02,
			InitMean:    0,
			InitStd:     0.1,
			TestRatio:   0.2,
			RandomState: 42,
		},
		Recommend: RecommendConfig{
			DefaultN:        10,
			NumJobs:         1,
			PopularityScore: "count * mean",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8087,
		},
		Importer: ImporterConfig{
			TMDBBaseURL: "https://api.themoviedb.org/3",
			TMDBRate:    10,
			TMDBJobs:    4,
			MaxMovies:   5000,
			BatchSize:   1000,
		},
	}
}

func setDefault() {
	defaultConfig := GetDefaultConfig()
	// [database]
	viper.SetDefault("database.data_store", defaultConfig.Database.DataStore)
	// [cache]
	viper.SetDefault("cache.type", defaultConfig.Cache.Type)
	viper.SetDefault("cache.dir", defaultConfig.Cache.Dir)
	viper.SetDefault("cache.rebuild_stale", defaultConfig.Cache.RebuildStale)
	viper.SetDefault("cache.lock_timeout", defaultConfig.Cache.LockTimeout)
	viper.SetDefault("cache.lock_ttl", defaultConfig.Cache.LockTTL)
	// [content]
	viper.SetDefault("content.max_features", defaultConfig.Content.MaxFeatures)
	viper.SetDefault("content.min_ngram", defaultConfig.Content.MinNGram)
	viper.SetDefault("content.max_ngram", defaultConfig.Content.MaxNGram)
	viper.SetDefault("content.stop_words", defaultConfig.Content.StopWords)
	// [collaborative]
	viper.SetDefault("collaborative.min_ratings", defaultConfig.Collaborative.MinRatings)
	viper.SetDefault("collaborative.n_factors", defaultConfig.Collaborative.NFactors)
	viper.SetDefault("collaborative.n_epochs", defaultConfig.Collaborative.NEpochs)
	viper.SetDefault("collaborative.lr", defaultConfig.Collaborative.Lr)
	viper.SetDefault("collaborative.reg", defaultConfig.Collaborative.Reg)
	viper.SetDefault("collaborative.init_mean", defaultConfig.Collaborative.InitMean)
	viper.SetDefault("collaborative.init_std", defaultConfig.Collaborative.InitStd)
	viper.SetDefault("collaborative.test_ratio", defaultConfig.Collaborative.TestRatio)
	viper.SetDefault("collaborative.random_state", defaultConfig.Collaborative.RandomState)
	// [recommend]
	viper.SetDefault("recommend.default_n", defaultConfig.Recommend.DefaultN)
	viper.SetDefault("recommend.num_jobs", defaultConfig.Recommend.NumJobs)
	viper.SetDefault("recommend.popularity_score", defaultConfig.Recommend.PopularityScore)
	viper.SetDefault("recommend.random_state", defaultConfig.Recommend.RandomState)
	// [server]
	viper.SetDefault("server.host", defaultConfig.Server.Host)
	viper.SetDefault("server.port", defaultConfig.Server.Port)
	viper.SetDefault("server.cache_ttl", defaultConfig.Server.CacheTTL)
	// [importer]
	viper.SetDefault("importer.tmdb_base_url", defaultConfig.Importer.TMDBBaseURL)
	viper.SetDefault("importer.tmdb_rate", defaultConfig.Importer.TMDBRate)
	viper.SetDefault("importer.tmdb_jobs", defaultConfig.Importer.TMDBJobs)
	viper.SetDefault("importer.max_movies", defaultConfig.Importer.MaxMovies)
	viper.SetDefault("importer.batch_size", defaultConfig.Importer.BatchSize)
}

type configBinding struct {
	key string
	env string
}

func bindEnv() {
	bindings := []configBinding{
		{"database.data_store", "REEL_DATA_STORE"},
		{"database.table_prefix", "REEL_TABLE_PREFIX"},
		{"cache.type", "REEL_CACHE_TYPE"},
		{"cache.dir", "REEL_CACHE_DIR"},
		{"cache.s3.endpoint", "REEL_S3_ENDPOINT"},
		{"cache.s3.access_key_id", "REEL_S3_ACCESS_KEY_ID"},
		{"cache.s3.secret_access_key", "REEL_S3_SECRET_ACCESS_KEY"},
		{"cache.s3.bucket", "REEL_S3_BUCKET"},
		{"cache.redis.url", "REEL_REDIS_URL"},
		{"recommend.num_jobs", "REEL_NUM_JOBS"},
		{"server.host", "REEL_SERVER_HOST"},
		{"server.port", "REEL_SERVER_PORT"},
		{"importer.tmdb_api_key", "REEL_TMDB_API_KEY"},
	}
	for _, binding := range bindings {
		// BindEnv only fails without arguments
		_ = viper.BindEnv(binding.key, binding.env)
	}
}

// LoadConfig loads configuration from a TOML file. An empty path loads defaults and
// environment variables only.
func LoadConfig(path string) (*Config, error) {
	viper.Reset()
	setDefault()
	bindEnv()
	if path != "" {
		viper.SetConfigType("toml")
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := viper.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

var dataStorePrefixes = []string{storage.MySQLPrefix, storage.PostgresPrefix, storage.PostgreSQLPrefix, storage.SQLitePrefix}

func validateDataStore(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	for _, prefix := range dataStorePrefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func validateCache(sl validator.StructLevel) {
	c := sl.Current().Interface().(CacheConfig)
	switch c.Type {
	case CacheTypePOSIX:
		if c.Dir == "" {
			sl.ReportError(c.Dir, "dir", "Dir", "required_for_posix", "")
		}
	case CacheTypeS3:
		if c.S3.Endpoint == "" {
			sl.ReportError(c.S3.Endpoint, "s3.endpoint", "Endpoint", "required_for_s3", "")
		}
		if c.S3.Bucket == "" {
			sl.ReportError(c.S3.Bucket, "s3.bucket", "Bucket", "required_for_s3", "")
		}
	case CacheTypeRedis:
		if !strings.HasPrefix(c.Redis.URL, storage.RedisPrefix) && !strings.HasPrefix(c.Redis.URL, storage.RedissPrefix) {
			sl.ReportError(c.Redis.URL, "redis.url", "URL", "redis_url", "")
		}
	}
}

// Validate checks the configuration with struct tags and cross-field rules.
func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("data_store", validateDataStore); err != nil {
		return errors.Trace(err)
	}
	validate.RegisterStructValidation(validateCache, CacheConfig{})
	return errors.Trace(validate.Struct(config))
}
