package loadgen

import (
	"strconv"
	"sync"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/gateway-fm/accessledger/pkg/types"
)

// dni bounds: always 8 digits
const (
	minDni = 10000000
	maxDni = 99999999
)

// maxNameLen is the longest name the contract stores.
const maxNameLen = 12

// DataSource produces fake identities.
type DataSource struct {
	mu    sync.Mutex
	faker *gofakeit.Faker
}

// NewDataSource creates a source. Seed 0 picks a random seed.
func NewDataSource(seed uint64) *DataSource {
	return &DataSource{faker: gofakeit.New(seed)}
}

// Identity returns a random create_user payload without load tags.
func (d *DataSource) Identity() types.CreateUserRequest {
	d.mu.Lock()
	defer d.mu.Unlock()

	return types.CreateUserRequest{
		UserInfo: types.UserInfo{
			Name:     clip(d.faker.FirstName(), maxNameLen),
			Lastname: clip(d.faker.LastName(), maxNameLen),
			Dni:      strconv.Itoa(d.faker.IntRange(minDni, maxDni)),
			Email:    d.faker.Email(),
		},
		Role: uint8(d.faker.IntRange(int(types.RoleUser), int(types.RoleAdmin))),
	}
}

// Tagged returns an identity carrying the correlation tags of request n.
func (d *DataSource) Tagged(n, total int, groupID string, mode types.TestType) types.CreateUserRequest {
	req := d.Identity()
	req.LoadTags = types.LoadTags{
		RequestNumber:     n,
		GroupID:           groupID,
		TotalTransactions: total,
		TestType:          string(mode),
	}
	return req
}

func clip(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
