package domain

// User is an authenticated account.
type User struct {
	ID         string
	Email      string
	IsAdmin    bool
	IsVerified bool
	Points     int64
}

// CanFeatureWithoutPayment reports whether the user may activate Tuzemoon directly.
func (u *User) CanFeatureWithoutPayment() bool {
	return u != nil && u.IsAdmin
}
