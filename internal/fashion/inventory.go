package fashion

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/replicant/internal/scatter"
)

// Inventory is what one simulated provider sells.
type Inventory struct {
	Provider string        `yaml:"provider"`
	Latency  time.Duration `yaml:"latency"`
	Items    []Item        `yaml:"items"`
}

// ParseInventory decodes an inventory document.
//
// Format:
//
//	provider: north
//	latency: 20ms
//	items:
//	  - id: hat-16-felt
//	    type: Hat
//	    size: 16
//	    price: 12.00
func ParseInventory(r io.Reader) (Inventory, error) {
	var inv Inventory
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&inv); err != nil {
		return Inventory{}, fmt.Errorf("parse inventory: %w", err)
	}
	if inv.Provider == "" {
		return Inventory{}, fmt.Errorf("parse inventory: provider is required")
	}
	for i := range inv.Items {
		it := &inv.Items[i]
		if it.ID == "" {
			return Inventory{}, fmt.Errorf("parse inventory: item %d has no id", i)
		}
		if it.Price < 0 {
			return Inventory{}, fmt.Errorf("parse inventory: item %s has negative price", it.ID)
		}
		it.Provider = inv.Provider
	}
	return inv, nil
}

// LoadInventory reads an inventory file.
func LoadInventory(path string) (Inventory, error) {
	f, err := os.Open(path)
	if err != nil {
		return Inventory{}, fmt.Errorf("load inventory: %w", err)
	}
	defer f.Close()
	return ParseInventory(f)
}

// Find returns the items answering q in inventory order.
func (inv Inventory) Find(q SearchQuery) []Item {
	var out []Item
	for _, it := range inv.Items {
		if it.Matches(q) {
			out = append(out, it)
		}
	}
	return out
}

// Handler answers search requests from this inventory, waiting Latency
// before each item.
func (inv Inventory) Handler() scatter.Handler[SearchQuery, Item] {
	return func(ctx context.Context, req scatter.Request[SearchQuery], emit func(Item) error) error {
		for _, it := range inv.Find(req.Query) {
			if inv.Latency > 0 {
				select {
				case <-time.After(inv.Latency):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err := emit(it); err != nil {
				return err
			}
		}
		return nil
	}
}

// ParseMarkups decodes a markup document into updates ordered by type.
//
// Format:
//
//	markups:
//	  Hat: 0.50
//	  Scarf: 1.25
func ParseMarkups(r io.Reader) ([]MarkupUpdate, error) {
	var doc struct {
		Markups map[string]float64 `yaml:"markups"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse markups: %w", err)
	}

	updates := make([]MarkupUpdate, 0, len(doc.Markups))
	for productType, markup := range doc.Markups {
		updates = append(updates, MarkupUpdate{ProductType: productType, Markup: markup})
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].ProductType < updates[j].ProductType })
	return updates, nil
}

// LoadMarkups reads a markup file.
func LoadMarkups(path string) ([]MarkupUpdate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load markups: %w", err)
	}
	defer f.Close()
	return ParseMarkups(f)
}
