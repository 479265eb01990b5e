package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tuzemoon/internal/domain"
)

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager()
	assert.Nil(t, m.Current())

	var events []EventType
	cancel := m.Subscribe(func(e Event) { events = append(events, e.Type) })

	m.SignIn(&domain.User{ID: "u1"})
	assert.Equal(t, "u1", m.Current().ID)

	m.Refresh(&domain.User{ID: "u1", IsAdmin: true})
	assert.True(t, m.Current().CanFeatureWithoutPayment())

	m.SignOut()
	m.SignOut()
	assert.Nil(t, m.Current())

	cancel()
	cancel()
	m.SignIn(&domain.User{ID: "u2"})

	assert.Equal(t, []EventType{SignedIn, TokenRefreshed, SignedOut}, events)
}
