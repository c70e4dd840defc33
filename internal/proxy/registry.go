package proxy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/arutyunov/foundry-proxy/internal/apperrors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	registryFallbackMaxTokens = 4096

	errModelNotFoundFormat = "%w: %s"
)

// ModelEntry describes one routable model: its public identifier, the upstream
// deployment it maps to, and the per-model filtering policy. Immutable after load.
type ModelEntry struct {
	PublicID         string
	UpstreamURL      string
	DeploymentName   string
	StripReasoning   bool
	DefaultMaxTokens int
}

// registryFile mirrors the YAML shape of the model registry document.
type registryFile struct {
	Models map[string]registryModel `yaml:"models"`
}

type registryModel struct {
	Endpoint         string `yaml:"endpoint"`
	Deployment       string `yaml:"deployment"`
	StripReasoning   *bool  `yaml:"strip_reasoning"`
	DefaultMaxTokens int    `yaml:"default_max_tokens"`
}

// ModelRegistry resolves public model identifiers to upstream connection
// details. Loaded once at startup; read-only thereafter, so lookups are safe
// for unsynchronized concurrent use.
type ModelRegistry struct {
	entriesByID map[string]ModelEntry
	orderedIDs  []string
}

// LoadModelRegistry reads the registry file at registryPath. When the file is
// absent, a single entry is synthesized from the configuration's fallback
// model so the proxy can run from environment variables alone.
func LoadModelRegistry(config Configuration, structuredLogger *zap.SugaredLogger) (*ModelRegistry, error) {
	registryPath := config.RegistryPath
	if strings.TrimSpace(registryPath) == "" {
		registryPath = DefaultRegistryPath
	}

	documentBytes, readError := os.ReadFile(registryPath)
	if readError != nil {
		if !os.IsNotExist(readError) {
			return nil, readError
		}
		if strings.TrimSpace(config.FallbackModelID) == "" || strings.TrimSpace(config.FallbackEndpoint) == "" {
			return nil, apperrors.ErrNoModelsConfigured
		}
		structuredLogger.Warnw(logEventRegistryFallback, logFieldPath, registryPath)
		return newModelRegistry([]ModelEntry{{
			PublicID:         config.FallbackModelID,
			UpstreamURL:      config.FallbackEndpoint,
			DeploymentName:   config.FallbackModelID,
			StripReasoning:   true,
			DefaultMaxTokens: registryFallbackMaxTokens,
		}}), nil
	}

	var document registryFile
	if unmarshalError := yaml.Unmarshal(documentBytes, &document); unmarshalError != nil {
		return nil, fmt.Errorf("parse model registry: %w", unmarshalError)
	}
	if len(document.Models) == 0 {
		return nil, apperrors.ErrNoModelsConfigured
	}

	entries := make([]ModelEntry, 0, len(document.Models))
	for publicID, described := range document.Models {
		entry := ModelEntry{
			PublicID:         publicID,
			UpstreamURL:      strings.TrimRight(described.Endpoint, "/"),
			DeploymentName:   described.Deployment,
			StripReasoning:   true,
			DefaultMaxTokens: described.DefaultMaxTokens,
		}
		if described.StripReasoning != nil {
			entry.StripReasoning = *described.StripReasoning
		}
		if strings.TrimSpace(entry.DeploymentName) == "" {
			entry.DeploymentName = publicID
		}
		if entry.DefaultMaxTokens <= 0 {
			entry.DefaultMaxTokens = registryFallbackMaxTokens
		}
		if strings.TrimSpace(entry.UpstreamURL) == "" {
			return nil, fmt.Errorf("model %q: missing endpoint", publicID)
		}
		entries = append(entries, entry)
	}

	registry := newModelRegistry(entries)
	structuredLogger.Infow(logEventRegistryLoaded, jsonFieldModels, registry.orderedIDs)
	return registry, nil
}

// newModelRegistry indexes the entries and fixes the listing order by public id.
func newModelRegistry(entries []ModelEntry) *ModelRegistry {
	entriesByID := make(map[string]ModelEntry, len(entries))
	orderedIDs := make([]string, 0, len(entries))
	for _, entry := range entries {
		entriesByID[entry.PublicID] = entry
		orderedIDs = append(orderedIDs, entry.PublicID)
	}
	sort.Strings(orderedIDs)
	return &ModelRegistry{entriesByID: entriesByID, orderedIDs: orderedIDs}
}

// Resolve returns the entry registered under publicID.
func (registry *ModelRegistry) Resolve(publicID string) (ModelEntry, error) {
	entry, known := registry.entriesByID[publicID]
	if !known {
		return ModelEntry{}, fmt.Errorf(errModelNotFoundFormat, apperrors.ErrModelNotFound, publicID)
	}
	return entry, nil
}

// List returns all entries ordered by public id.
func (registry *ModelRegistry) List() []ModelEntry {
	listed := make([]ModelEntry, 0, len(registry.orderedIDs))
	for _, publicID := range registry.orderedIDs {
		listed = append(listed, registry.entriesByID[publicID])
	}
	return listed
}
