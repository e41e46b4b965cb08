package weaviate

import (
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
)

type Config struct {
	Host   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	Scheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	APIKey string `envconfig:"WEAVIATE_API_KEY"`
	// Class holds every knowledge object; namespaces are a property on it.
	Class string `envconfig:"WEAVIATE_CLASS" default:"Knowledge"`
}

func (c *Config) New() (*weaviate.Client, error) {
	cfg := weaviate.Config{
		Host:   c.Host,
		Scheme: c.Scheme,
	}
	if c.APIKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: c.APIKey}
	}
	return weaviate.NewClient(cfg)
}
