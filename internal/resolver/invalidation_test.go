package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type invalidations struct {
	users []string
	all   int
}

func (i *invalidations) Invalidate(userID string) { i.users = append(i.users, userID) }
func (i *invalidations) InvalidateAll() { i.all++ }

func TestApplyInvalidation(t *testing.T) {
	tests := []struct {
		payload string
		users   []string
		all     int
		wantErr bool
	}{
		{payload: "u1", users: []string{"u1"}},
		{payload: " u1, u2 ,", users: []string{"u1", "u2"}},
		{payload: "*", all: 1},
		{payload: "u1,*", users: []string{"u1"}, all: 1},
		{payload: "", wantErr: true},
		{payload: " , ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			inv := &invalidations{}
			err := ApplyInvalidation(inv, tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.users, inv.users)
			assert.Equal(t, tt.all, inv.all)
		})
	}
}
