package config

import (
	"fmt"

	"ailego/domain/core/valueobjects"
)

// DomainConfig holds the configurable rules of the card canvas
type DomainConfig struct {
	// Layout
	CardSpacing     float64
	DefaultCardSize valueobjects.Size

	// Canvas constraints
	MaxCardsPerProject int
	MaxLinksPerProject int

	// Text constraints
	MaxDescriptionLength int
	MaxCommentLength     int
	MaxAuthorNameLength  int

	// DeduplicateLinks drops a new link when a value-equal link already exists
	DeduplicateLinks bool
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		CardSpacing:     170,
		DefaultCardSize: valueobjects.Size{Width: 200, Height: 200},

		MaxCardsPerProject: 500,
		MaxLinksPerProject: 5000,

		MaxDescriptionLength: 20000,
		MaxCommentLength:     2000,
		MaxAuthorNameLength:  200,

		DeduplicateLinks: true,
	}
}

// Validate ensures the configuration is internally consistent
func (c *DomainConfig) Validate() error {
	if c.CardSpacing <= 0 {
		return fmt.Errorf("card spacing must be positive, got %v", c.CardSpacing)
	}
	if err := c.DefaultCardSize.Validate(); err != nil {
		return fmt.Errorf("default card size: %w", err)
	}
	if c.MaxCardsPerProject <= 0 || c.MaxLinksPerProject <= 0 {
		return fmt.Errorf("project limits must be positive")
	}
	if c.MaxDescriptionLength <= 0 || c.MaxCommentLength <= 0 || c.MaxAuthorNameLength <= 0 {
		return fmt.Errorf("text limits must be positive")
	}
	return nil
}
