package llm

import "fmt"

// Config holds the configuration for the LLM client.
// Works with any OpenAI-compatible provider (OpenAI, OpenRouter, ...).
type Config struct {
	APIKey      string
	APIURL      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     int // seconds
}

func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Timeout <= 0 {
		c.Timeout = 60
	}
	return nil
}
