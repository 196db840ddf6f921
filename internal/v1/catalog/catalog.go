// Package catalog loads card images from disk, normalizes them into a
// content-addressed cache, and serves the resulting deck to the game engine.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/talespin-gg/talespin-server/internal/v1/config"
	"github.com/talespin-gg/talespin-server/internal/v1/logging"
)

// ErrNotFound is returned when a card ID has no cached image.
var ErrNotFound = errors.New("card not found")

const cacheSubdirCards = "cards"

// Catalog is the immutable card deck. Safe for concurrent use after Load.
type Catalog struct {
	norm  normalization
	deck  []string
	cards map[string]string // card ID -> cache file path

	LoadedBuiltin int
	LoadedExtra   int
	FailedSources int
}

// Load scans the built-in and extra image directories, normalizes every
// supported image into the cache, and returns the assembled catalog.
func Load(ctx context.Context, cfg *config.Config) (*Catalog, error) {
	norm, err := newNormalization(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var builtinSources []string
	if !cfg.DisableBuiltinImages {
		builtinSources, err = collectImageFiles(ctx, cfg.BuiltinImageDir, true, cfg.SniffExtensionless)
		if err != nil {
			return nil, err
		}
	}

	var extraSources []string
	for _, dir := range cfg.ExtraImageDirs {
		found, err := collectImageFiles(ctx, dir, false, cfg.SniffExtensionless)
		if err != nil {
			return nil, err
		}
		extraSources = append(extraSources, found...)
	}

	if len(cfg.ExtraImageDirs) > 0 && len(extraSources) == 0 {
		return nil, fmt.Errorf(
			"no supported images (.jpg/.jpeg/.png/.webp) were found in TALESPIN_EXTRA_IMAGE_DIRS; checked %d directories",
			len(cfg.ExtraImageDirs))
	}

	if cfg.DisableBuiltinImages && len(extraSources) == 0 {
		return nil, errors.New(
			"TALESPIN_DISABLE_BUILTIN_IMAGES_P=y requires at least one image from TALESPIN_EXTRA_IMAGE_DIRS, but none were loaded")
	}

	c := &Catalog{
		norm:  norm,
		cards: make(map[string]string),
	}

	seenSources := make(map[string]struct{})
	seenCardIDs := make(map[string]struct{})

	ingest := func(sources []string, counter *int) {
		for _, source := range sources {
			if _, dup := seenSources[source]; dup {
				continue
			}
			seenSources[source] = struct{}{}

			cardID, cachePath, err := normalizeSourceToCache(source, norm)
			if err != nil {
				c.FailedSources++
				logging.Warn(ctx, "Failed to normalize image",
					zap.String("source", source), zap.Error(err))
				continue
			}

			if _, dup := seenCardIDs[cardID]; dup {
				continue
			}
			seenCardIDs[cardID] = struct{}{}
			c.deck = append(c.deck, cardID)
			c.cards[cardID] = cachePath
			*counter++
		}
	}

	ingest(builtinSources, &c.LoadedBuiltin)
	ingest(extraSources, &c.LoadedExtra)

	if len(c.deck) == 0 {
		return nil, errors.New("no cards available after loading images; check the built-in image directory and TALESPIN_EXTRA_IMAGE_DIRS")
	}

	sort.Strings(c.deck)

	logging.Info(ctx, "Card catalog loaded",
		zap.Int("builtin", c.LoadedBuiltin),
		zap.Int("extra", c.LoadedExtra),
		zap.Int("failed", c.FailedSources),
		zap.Int("deck_size", len(c.deck)))

	return c, nil
}

// Deck returns a copy of the sorted card ID list.
func (c *Catalog) Deck() []string {
	deck := make([]string, len(c.deck))
	copy(deck, c.deck)
	return deck
}

// Size returns the number of distinct cards.
func (c *Catalog) Size() int {
	return len(c.deck)
}

// Has reports whether the card ID exists in the catalog.
func (c *Catalog) Has(cardID string) bool {
	_, ok := c.cards[cardID]
	return ok
}

// CardBytes returns the cached, normalized image bytes for a card ID.
func (c *Catalog) CardBytes(cardID string) ([]byte, error) {
	path, ok := c.cards[cardID]
	if !ok {
		return nil, ErrNotFound
	}

	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached card %s: %w", filepath.Base(path), err)
	}
	return bytes, nil
}

// ContentType returns the MIME type of the cached card images.
func (c *Catalog) ContentType() string {
	return c.norm.format.mimeType()
}
