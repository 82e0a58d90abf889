package parlato

import (
	"fmt"
	"strings"

	"github.com/harunnryd/parlato/pkg/recognizer"
)

// RecognizerFactory builds a recognizer from the loaded config.
type RecognizerFactory func(cfg Config) (recognizer.Recognizer, error)

// ProviderRegistry maps provider names to recognizer factories.
type ProviderRegistry struct {
	recognizers map[string]RecognizerFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		recognizers: make(map[string]RecognizerFactory),
	}
}

func (r *ProviderRegistry) RegisterRecognizer(name string, factory RecognizerFactory) {
	r.recognizers[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildRecognizer(provider string, cfg Config) (recognizer.Recognizer, error) {
	fn := r.recognizers[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("recognizer provider not registered: %s", provider)
	}
	return fn(cfg)
}
