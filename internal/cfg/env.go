package cfg

import (
	"fmt"
	"net"
	"strconv"

	env "github.com/Netflix/go-env"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Environment is the process environment the pipeline is assembled from.
// It is read once at startup and passed by value; nothing downstream reads
// os.Getenv directly.
type Environment struct {
	NodeEnv       string `env:"NODE_ENV,default=development"`
	RedisHost     string `env:"REDIS_HOST,default=127.0.0.1"`
	RedisPort     int    `env:"REDIS_PORT,default=6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	CookieSecret  string `env:"COOKIE_SECRET"`
}

// LoadEnvironment reads the Environment from the process environment.
func LoadEnvironment() (Environment, error) {
	es, err := env.EnvironToEnvSet(environ())
	if err != nil {
		return Environment{}, fmt.Errorf("parse environment: %w", err)
	}
	return EnvironmentFrom(es)
}

// EnvironmentFrom reads the Environment from an explicit set, used by tests.
func EnvironmentFrom(es env.EnvSet) (Environment, error) {
	var e Environment
	if err := env.Unmarshal(es, &e); err != nil {
		return Environment{}, fmt.Errorf("unmarshal environment: %w", err)
	}
	return e, nil
}

func (e Environment) IsProduction() bool  { return e.NodeEnv == EnvProduction }
func (e Environment) IsDevelopment() bool { return e.NodeEnv == EnvDevelopment }

// RedisAddr is host:port for the session store connection.
func (e Environment) RedisAddr() string {
	return net.JoinHostPort(e.RedisHost, strconv.Itoa(e.RedisPort))
}
