package provisioning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCatalogGrants(t *testing.T) {
	counts := map[string]int{}
	for _, r := range Roles {
		for _, p := range Permissions {
			if Grants(r.Name, p) {
				counts[r.Name]++
			}
		}
	}

	assert.Len(t, Permissions, 30)
	assert.Equal(t, 30, counts["super_admin"])
	assert.Equal(t, 26, counts["admin"])
	assert.Equal(t, 18, counts["manager"])
	assert.Equal(t, 14, counts["sales_rep"])
	assert.Equal(t, 3, counts["user"])
}

func TestOnlyManagersSeeEverything(t *testing.T) {
	viewAll := Permissions[9]
	assert.Equal(t, "contacts.view_all", viewAll.Name)

	assert.True(t, Grants("manager", viewAll))
	assert.False(t, Grants("sales_rep", viewAll))
	assert.False(t, Grants("user", viewAll))
	assert.False(t, Grants("unknown", viewAll))
}
