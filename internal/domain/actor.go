package domain

// ActorRole classifies who performed an action.
type ActorRole string

const (
	ActorCustomer ActorRole = "customer"
	ActorOperator ActorRole = "operator"
	ActorSystem   ActorRole = "system"
	ActorGateway  ActorRole = "gateway"
)

// Actor identifies the caller behind a mutation. Guest buyers have an empty ID.
type Actor struct {
	ID   string
	Role ActorRole
}

// SystemActor is used by scheduled jobs.
var SystemActor = Actor{ID: "scheduler", Role: ActorSystem}

// GatewayActor is used for webhook driven mutations.
var GatewayActor = Actor{ID: "payment-gateway", Role: ActorGateway}

// IsOperator reports whether the actor is staff.
func (a Actor) IsOperator() bool {
	return a.Role == ActorOperator
}

// Label renders the actor for timelines, notes and ledger records.
func (a Actor) Label() string {
	role := a.Role
	if role == "" {
		role = ActorCustomer
	}
	if a.ID == "" {
		return string(role) + ":guest"
	}
	return string(role) + ":" + a.ID
}
