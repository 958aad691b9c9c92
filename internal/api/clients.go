package api

import (
	"context"
	"fmt"

	"github.com/justlovemaki/AIClient-2-API/internal/client"
	"github.com/justlovemaki/AIClient-2-API/internal/client/orchids"
	"github.com/justlovemaki/AIClient-2-API/internal/config"
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/justlovemaki/AIClient-2-API/internal/pool"
)

// NewClient instantiates the adapter for a provider type and a selected
// credential.
func NewClient(cfg *config.Config, providerType string, cred *pool.CredentialConfig) (client.Client, error) {
	switch providerType {
	case constant.OpenAICustom:
		return client.NewOpenAIClient(cfg, cred), nil
	case constant.ClaudeCustom:
		return client.NewClaudeClient(cfg, cred), nil
	case constant.GeminiCustom:
		return client.NewGeminiClient(cfg, cred), nil
	case constant.Qwen:
		return client.NewQwenClient(cfg, cred), nil
	case constant.Kiro:
		return client.NewKiroClient(cfg, cred), nil
	case constant.Warp:
		return client.NewWarpClient(cfg, cred), nil
	case constant.Orchids:
		return orchids.NewOrchidsClient(cfg, cred), nil
	}
	return nil, fmt.Errorf("api: unknown provider type %q", providerType)
}

// HealthChecker builds the pool manager's upstream probe: list models on
// a fresh adapter and return the first model id as proof of liveness.
func HealthChecker(cfg *config.Config) pool.HealthCheckFunc {
	return func(ctx context.Context, providerType string, cred *pool.CredentialConfig) (string, error) {
		adapter, err := NewClient(cfg, providerType, cred)
		if err != nil {
			return "", err
		}
		if refreshErr := adapter.RefreshCredential(ctx); refreshErr != nil {
			return "", refreshErr
		}
		models, errMsg := adapter.ListModels(ctx)
		if errMsg != nil {
			return "", errMsg
		}
		if cred.CheckModelName != "" {
			return cred.CheckModelName, nil
		}
		if len(models) > 0 {
			return models[0].ID, nil
		}
		return "", nil
	}
}
