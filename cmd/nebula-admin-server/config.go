package main

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	internalhttp "github.com/overmesh/nebula-admin/internal/api/http"
	"github.com/overmesh/nebula-admin/internal/db"
)

type Config struct {
	Log       LogConfig           `mapstructure:"log"`
	Http      internalhttp.Config `mapstructure:"http"`
	DB        db.Config           `mapstructure:"db"`
	Nebula    NebulaConfig        `mapstructure:"nebula"`
	Provision ProvisionConfig     `mapstructure:"provision"`
}

type NebulaConfig struct {
	Bin       string `mapstructure:"bin"`
	CertDir   string `mapstructure:"cert_dir"`
	ConfigDir string `mapstructure:"config_dir"`
}

type ProvisionConfig struct {
	Pool            string   `mapstructure:"pool"`
	PoolStart       int      `mapstructure:"pool_start"`
	TokenTTLHours   int      `mapstructure:"token_ttl_hours"`
	LighthouseHosts []string `mapstructure:"lighthouse_hosts"`
}

var config Config

func InitConfig() {
	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/nebula-admin-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("db.url", "DATABASE_URL")
	_ = viper.BindEnv("http.jwt_secret", "JWT_SECRET")

	viper.SetDefault("http.port", 8080)
	viper.SetDefault("nebula.bin", "nebula")
	viper.SetDefault("nebula.cert_dir", "./data/certs")
	viper.SetDefault("nebula.config_dir", "./data/configs")
	viper.SetDefault("provision.pool", "192.168.100.0/24")
	viper.SetDefault("provision.pool_start", 10)
	viper.SetDefault("provision.token_ttl_hours", 24)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(err)
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}

	initLogger(config.Log.Level)
}
