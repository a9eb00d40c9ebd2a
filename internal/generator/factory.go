package generator

import (
	"fmt"
	"log"
	"time"
)

// Provider names accepted by New.
const (
	ProviderMock      = "mock"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// New creates a Generator for the configured provider.
func New(provider, baseURL, apiKey, model string, timeout time.Duration) (Generator, error) {
	switch provider {
	case ProviderMock:
		log.Println("using mock content generator")
		return NewMock(), nil
	case ProviderAnthropic:
		c, err := NewAnthropicClient(apiKey, model)
		if err != nil {
			return nil, err
		}
		return FromCompleter(c), nil
	case ProviderOpenAI, "":
		return FromCompleter(NewChatClient(baseURL, apiKey, model, timeout)), nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q", provider)
	}
}
