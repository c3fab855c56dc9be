package chat

// Role identifies which side of a conversation a participant acts as.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleBusiness Role = "business"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleBusiness
}

// Other returns the counterpart role.
func (r Role) Other() Role {
	if r == RoleCustomer {
		return RoleBusiness
	}
	return RoleCustomer
}

// DeliveryStatus is the local-only delivery state of a timeline entry.
// It is never persisted; it exists to render the sender's own optimistic copy.
type DeliveryStatus string

const (
	StatusSending DeliveryStatus = "sending"
	StatusSent    DeliveryStatus = "sent"
	StatusError   DeliveryStatus = "error"
)
