// ABOUTME: Demonstration item lists for the two seeded realm users
// ABOUTME: Seed upserts them so repeated runs leave the store unchanged

package api

import (
	"context"
	"fmt"

	"github.com/2389/platform-engine/internal/store"
)

// DemoItems maps Keycloak user ids to their demonstration items.
var DemoItems = map[string][]store.Item{
	"676afc8d-af2f-4ed2-8c39-9f9a82d18556": {
		{ID: "123", Name: "car"},
		{ID: "4312", Name: "cellphone"},
		{ID: "151", Name: "coffee"},
	},
	"53535353-b670-4527-a34c-66523687b128": {
		{ID: "512", Name: "car"},
		{ID: "21255", Name: "cellphone"},
		{ID: "142", Name: "coffee"},
		{ID: "22112", Name: "tea"},
	},
}

// Seed writes DemoItems to s and returns how many items were written.
func Seed(ctx context.Context, s store.ItemStore) (int, error) {
	n := 0
	for userID, list := range DemoItems {
		for _, item := range list {
			item.UserID = userID
			if err := s.UpsertItem(ctx, item); err != nil {
				return n, fmt.Errorf("seeding item %s for %s: %w", item.ID, userID, err)
			}
			n++
		}
	}
	return n, nil
}
