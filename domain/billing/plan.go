package billing

// Plan represents a subscription tier (immutable value type).
// Plans are sourced from configuration, not persisted per user.
type Plan struct {
	Key             string // stable key used by clients ("basic199", "pro299")
	GatewayPlanID   string // plan id at the payment gateway
	Price           int64  // smallest currency unit per period
	Currency        string
	TokensPerPeriod int64
	Label           string
}

// Configured reports whether the plan can be sold: a plan without a gateway
// mapping renders in the catalog but cannot open a subscription.
func (p Plan) Configured() bool {
	return p.GatewayPlanID != ""
}

// FindPlan finds a plan by key in a catalog.
// This is a PURE function.
func FindPlan(plans []Plan, key string) (Plan, bool) {
	for _, p := range plans {
		if p.Key == key {
			return p, true
		}
	}
	return Plan{}, false
}
