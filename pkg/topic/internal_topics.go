package topic

// Well-known internal topics (never forwarded to a peer) that the core
// publishes operator-facing lifecycle information to.
var (
	Errors      = MustNew(Reserved + "/local/data/errors")
	Statuses    = MustNew(Reserved + "/local/data/statuses")
	StoreEvents = MustNew(Reserved + "/local/data/store-events")
)
