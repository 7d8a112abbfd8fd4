package http

type Config struct {
	Port      uint   `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
}
