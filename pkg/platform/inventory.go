package platform

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// GIDPrefix starts every platform global identifier.
const GIDPrefix = "gid://shopify/"

// InventoryLevel is the available quantity of a variant at one location.
type InventoryLevel struct {
	LocationID string `json:"locationId"`
	Location   string `json:"location"`
	Available  int    `json:"available"`
}

// MaxLevels caps how many inventory levels one lookup returns.
const MaxLevels = 50

const variantItemQuery = `query VariantInventoryItem($id: ID!) {
  productVariant(id: $id) {
    inventoryItem { id }
  }
}`

const itemLevelsQuery = `query InventoryItemLevels($id: ID!, $first: Int!) {
  inventoryItem(id: $id) {
    inventoryLevels(first: $first) {
      edges {
        node {
          location { id name }
          quantities(names: ["available"]) { name quantity }
        }
      }
    }
  }
}`

type variantItemData struct {
	ProductVariant *struct {
		InventoryItem *struct {
			ID string `json:"id"`
		} `json:"inventoryItem"`
	} `json:"productVariant"`
}

type itemLevelsData struct {
	InventoryItem *struct {
		InventoryLevels struct {
			Edges []struct {
				Node struct {
					Location struct {
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"location"`
					Quantities []struct {
						Name     string `json:"name"`
						Quantity *int   `json:"quantity"`
					} `json:"quantities"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"inventoryLevels"`
	} `json:"inventoryItem"`
}

// VariantGID returns id unchanged when it is already a global identifier, else the
// ProductVariant GID for it.
func VariantGID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, GIDPrefix) {
		return id
	}
	return GIDPrefix + "ProductVariant/" + id
}

// LocationGID turns a bare numeric location id into its Location GID. Anything
// else, including an existing GID, is returned trimmed but otherwise unchanged.
func LocationGID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.TrimLeft(id, "0123456789") != "" {
		return id
	}
	return GIDPrefix + "Location/" + id
}

// ResolveLevels maps a variant to its per-location availability with two chained
// queries. A variant without an inventory item yields an empty, non-nil slice.
func (c *Client) ResolveLevels(ctx context.Context, shop, token, variantID string) ([]InventoryLevel, error) {
	var vd variantItemData
	if err := c.graphQL(ctx, "variant_inventory_item", shop, token, variantItemQuery,
		map[string]any{"id": VariantGID(variantID)}, &vd); err != nil {
		return nil, err
	}
	if vd.ProductVariant == nil || vd.ProductVariant.InventoryItem == nil || vd.ProductVariant.InventoryItem.ID == "" {
		return []InventoryLevel{}, nil
	}

	var ld itemLevelsData
	if err := c.graphQL(ctx, "inventory_item_levels", shop, token, itemLevelsQuery,
		map[string]any{"id": vd.ProductVariant.InventoryItem.ID, "first": MaxLevels}, &ld); err != nil {
		return nil, err
	}
	levels := []InventoryLevel{}
	if ld.InventoryItem == nil {
		return levels, nil
	}
	for _, e := range ld.InventoryItem.InventoryLevels.Edges {
		n := e.Node
		if !c.allowed(n.Location.ID) {
			continue
		}
		lvl := InventoryLevel{LocationID: n.Location.ID, Location: n.Location.Name}
		for _, q := range n.Quantities {
			if q.Name == "available" && q.Quantity != nil {
				lvl.Available = *q.Quantity
			}
		}
		levels = append(levels, lvl)
	}
	SortByLocation(levels)
	return levels, nil
}

func (c *Client) allowed(locationID string) bool {
	if len(c.allow) == 0 {
		return true
	}
	_, ok := c.allow[locationID]
	return ok
}

// SortByLocation orders levels by location name with root-locale collation.
// A Collator is not safe for concurrent use, so one is built per call.
func SortByLocation(levels []InventoryLevel) {
	col := collate.New(language.Und)
	sort.SliceStable(levels, func(i, j int) bool {
		return col.CompareString(levels[i].Location, levels[j].Location) < 0
	})
}
