package api

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/justlovemaki/AIClient-2-API/internal/registry"
	log "github.com/sirupsen/logrus"
)

const listModelsTimeout = 30 * time.Second

// aggregateModels fans out across every configured provider pool in
// parallel, listing models on one healthy credential each, and merges
// the catalogs with brand-tagged ids.
func (d *Dispatcher) aggregateModels(ctx context.Context) []*registry.ModelInfo {
	ctx, cancel := context.WithTimeout(ctx, listModelsTimeout)
	defer cancel()

	providerTypes := d.poolMgr.ProviderTypes()
	results := make([][]*registry.ModelInfo, len(providerTypes))

	var wg sync.WaitGroup
	for i, providerType := range providerTypes {
		wg.Add(1)
		go func(i int, providerType string) {
			defer wg.Done()
			cred, err := d.poolMgr.Select(providerType)
			if err != nil {
				return
			}
			adapter, err := NewClient(d.cfg, providerType, cred)
			if err != nil {
				log.Warnf("models: %v", err)
				return
			}
			models, errMsg := adapter.ListModels(ctx)
			if errMsg != nil {
				log.Warnf("models: listing failed for %s: %v", providerType, errMsg.Err)
				return
			}
			tagged := make([]*registry.ModelInfo, 0, len(models))
			for _, info := range models {
				clone := *info
				clone.ID = registry.TagModel(providerType, info.ID)
				if clone.Name != "" {
					clone.Name = "models/" + clone.ID
				}
				tagged = append(tagged, &clone)
			}
			results[i] = tagged
		}(i, providerType)
	}
	wg.Wait()

	var merged []*registry.ModelInfo
	for _, models := range results {
		merged = append(merged, models...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	return merged
}

// HandleOpenAIModels serves GET /v1/models.
func (d *Dispatcher) HandleOpenAIModels(c *gin.Context) {
	models := d.aggregateModels(c.Request.Context())
	data := make([]gin.H, 0, len(models))
	for _, info := range models {
		data = append(data, gin.H{
			"id":       info.ID,
			"object":   "model",
			"created":  info.Created,
			"owned_by": info.OwnedBy,
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

// HandleGeminiModels serves GET /v1beta/models.
func (d *Dispatcher) HandleGeminiModels(c *gin.Context) {
	models := d.aggregateModels(c.Request.Context())
	data := make([]gin.H, 0, len(models))
	for _, info := range models {
		name := info.Name
		if name == "" {
			name = "models/" + info.ID
		}
		entry := gin.H{
			"name":        name,
			"displayName": info.DisplayName,
			"version":     info.Version,
		}
		if len(info.SupportedGenerationMethods) > 0 {
			entry["supportedGenerationMethods"] = info.SupportedGenerationMethods
		}
		data = append(data, entry)
	}
	c.JSON(http.StatusOK, gin.H{"models": data})
}
