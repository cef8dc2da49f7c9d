package shop

import "github.com/dshills/stepflow/flow"

// Category is the classifier's verdict on a query.
type Category string

// Categories the classifier may return.
const (
	CategoryAsk    Category = "Ask"
	CategorySearch Category = "Search"
	CategoryAdmin  Category = "Admin"
)

// Event kinds routed between the shop steps.
const (
	KindAsk          flow.Kind = "ask"
	KindSearch       flow.Kind = "search"
	KindAdminRequest flow.Kind = "admin_request"
)

var (
	// QueryStart is the start event of both workflows.
	QueryStart = flow.DefineEvent(flow.KindStart, "query")

	AskEvent          = flow.DefineEvent(KindAsk, "query")
	SearchEvent       = flow.DefineEvent(KindSearch, "query")
	AdminRequestEvent = flow.DefineEvent(KindAdminRequest, "index")
)

// Messages the admin workflow stops with.
const (
	addedMessage   = "Successfully added item: %s to the collection."
	abortedMessage = "Aborted adding item to the collection."
	confirmPrompt  = "Please confirm that this is the item you want to add (answer yes or no) %s:"
)
