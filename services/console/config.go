package console

import (
	"context"

	"github.com/sethvargo/go-envconfig"

	"iplfleet/services/deploy"
	"iplfleet/services/netpolicy"
)

// Config holds runtime configuration for the console service.
type Config struct {
	Addr           string   `env:"ADDR,default=:8080"`
	DBDSN          string   `env:"DB_DSN,required"`
	NATSURL        string   `env:"NATS_URL,default=nats://127.0.0.1:4222"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:5173"`
	OTLPEndpoint   string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	KeyDir        string `env:"SSH_KEY_DIR,default=.ssh-keys"`
	ResultsBucket string `env:"RESULTS_BUCKET"`

	Deploy    deploy.Config
	Netpolicy netpolicy.Config
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
